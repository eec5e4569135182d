package domain

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes as text ("30s", "5m").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats the duration like time.Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %w", ErrInvalidInput, string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds all runtime configuration.
type Config struct {
	Remote    RemoteConfig    `toml:"remote" envPrefix:"REMOTE_"`
	Auth      AuthConfig      `toml:"auth" envPrefix:"AUTH_"`
	Cache     CacheConfig     `toml:"cache" envPrefix:"CACHE_"`
	Queue     QueueConfig     `toml:"queue" envPrefix:"QUEUE_"`
	Changes   ChangesConfig   `toml:"changes" envPrefix:"CHANGES_"`
	Sync      SyncConfig      `toml:"sync" envPrefix:"SYNC_"`
	Scheduler SchedulerConfig `toml:"scheduler" envPrefix:"SCHEDULER_"`
	Storage   StorageConfig   `toml:"storage" envPrefix:"STORAGE_"`
	Log       LogConfig       `toml:"log" envPrefix:"LOG_"`
}

// RemoteConfig configures the remote data service client.
type RemoteConfig struct {
	BaseURL string   `toml:"base_url" env:"BASE_URL" validate:"required,url"`
	Timeout Duration `toml:"timeout" env:"TIMEOUT" validate:"gt=0"`
}

// AuthConfig configures credential renewal.
type AuthConfig struct {
	ClientID     string `toml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `toml:"client_secret" env:"CLIENT_SECRET"`
	TokenURL     string `toml:"token_url" env:"TOKEN_URL" validate:"omitempty,url"`

	// LeadTime is how long before expiry the credential is renewed.
	LeadTime Duration `toml:"lead_time" env:"LEAD_TIME" validate:"gte=0"`

	// MinInterval is the minimum spacing between actual refresh attempts.
	MinInterval Duration `toml:"min_interval" env:"MIN_INTERVAL" validate:"gte=0"`
}

// CacheConfig configures the TTL cache used for remote lookups.
type CacheConfig struct {
	DefaultTTL  Duration `toml:"default_ttl" env:"DEFAULT_TTL" validate:"gt=0"`
	NegativeTTL Duration `toml:"negative_ttl" env:"NEGATIVE_TTL" validate:"gt=0"`
	BaseDelay   Duration `toml:"base_delay" env:"BASE_DELAY" validate:"gt=0"`
	MaxDelay    Duration `toml:"max_delay" env:"MAX_DELAY" validate:"gtefield=BaseDelay"`
	MaxRetries  int      `toml:"max_retries" env:"MAX_RETRIES" validate:"gte=0"`
}

// QueueConfig configures the offline mutation queue.
type QueueConfig struct {
	MaxRetries    int      `toml:"max_retries" env:"MAX_RETRIES" validate:"gte=0"`
	BaseDelay     Duration `toml:"base_delay" env:"BASE_DELAY" validate:"gt=0"`
	MaxDelay      Duration `toml:"max_delay" env:"MAX_DELAY" validate:"gtefield=BaseDelay"`
	Concurrency   int      `toml:"concurrency" env:"CONCURRENCY" validate:"gte=1"`
	FlushInterval Duration `toml:"flush_interval" env:"FLUSH_INTERVAL" validate:"gte=0"`

	// SchemaDir holds <entity_type>.json payload schemas. Empty disables validation.
	SchemaDir string `toml:"schema_dir" env:"SCHEMA_DIR"`
}

// ChangesConfig configures change feed handling.
type ChangesConfig struct {
	MinInterval Duration `toml:"min_interval" env:"MIN_INTERVAL" validate:"gte=0"`

	// FeedURL is a ws:// or wss:// change feed endpoint.
	FeedURL string `toml:"feed_url" env:"FEED_URL" validate:"omitempty,url"`

	// WatchDir enables the local file-system change feed rooted here.
	WatchDir string `toml:"watch_dir" env:"WATCH_DIR"`
}

// SyncConfig configures the external booking provider sync.
type SyncConfig struct {
	ProviderURL       string   `toml:"provider_url" env:"PROVIDER_URL" validate:"omitempty,url"`
	APIKey            string   `toml:"api_key" env:"API_KEY"`
	RequestsPerSecond float64  `toml:"requests_per_second" env:"REQUESTS_PER_SECOND" validate:"gt=0"`
	Burst             int      `toml:"burst" env:"BURST" validate:"gte=1"`
	PageSize          int      `toml:"page_size" env:"PAGE_SIZE" validate:"gte=1"`
	Cooldown          Duration `toml:"cooldown" env:"COOLDOWN" validate:"gte=0"`
	CountdownTick     Duration `toml:"countdown_tick" env:"COUNTDOWN_TICK" validate:"gt=0"`
	MaxPageRetries    int      `toml:"max_page_retries" env:"MAX_PAGE_RETRIES" validate:"gte=0"`
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for the scheduler.
	Enabled bool `toml:"enabled" env:"ENABLED"`

	// SyncInterval is how often the provider sync task runs. Zero disables it.
	SyncInterval Duration `toml:"sync_interval" env:"SYNC_INTERVAL" validate:"gte=0"`
}

// StorageConfig configures local persistence.
type StorageConfig struct {
	// DataDir holds the SQLite database. Empty means ~/.propops/data.
	DataDir string `toml:"data_dir" env:"DATA_DIR"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Remote: RemoteConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: Duration(15 * time.Second),
		},
		Auth: AuthConfig{
			LeadTime:    Duration(60 * time.Second),
			MinInterval: Duration(5 * time.Minute),
		},
		Cache: CacheConfig{
			DefaultTTL:  Duration(5 * time.Minute),
			NegativeTTL: Duration(5 * time.Second),
			BaseDelay:   Duration(1 * time.Second),
			MaxDelay:    Duration(1 * time.Minute),
			MaxRetries:  5,
		},
		Queue: QueueConfig{
			MaxRetries:    5,
			BaseDelay:     Duration(2 * time.Second),
			MaxDelay:      Duration(5 * time.Minute),
			Concurrency:   4,
			FlushInterval: Duration(1 * time.Minute),
		},
		Changes: ChangesConfig{
			MinInterval: Duration(2 * time.Second),
		},
		Sync: SyncConfig{
			RequestsPerSecond: 2,
			Burst:             5,
			PageSize:          100,
			Cooldown:          Duration(10 * time.Second),
			CountdownTick:     Duration(1 * time.Second),
			MaxPageRetries:    3,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			SyncInterval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
