package cli

import (
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write the configuration",
	Long: `Configuration is read from config.toml in the config directory and
overridden by PROPOPS_* environment variables, e.g. PROPOPS_REMOTE_BASE_URL
or PROPOPS_QUEUE_MAX_RETRIES.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := runtimeFor(cmd)
		if err != nil {
			return err
		}
		cmd.Println(rt.ConfigPath)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to the config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	cfg := rt.Config
	if cfg.Auth.ClientSecret != "" {
		cfg.Auth.ClientSecret = mask(cfg.Auth.ClientSecret)
	}
	if cfg.Sync.APIKey != "" {
		cfg.Sync.APIKey = mask(cfg.Sync.APIKey)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	cmd.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	if rt.SaveConfig == nil {
		return errors.New("configuration cannot be saved in this mode")
	}
	if err := rt.SaveConfig(rt.Config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	cmd.Printf("Configuration written to %s\n", rt.ConfigPath)
	return nil
}
