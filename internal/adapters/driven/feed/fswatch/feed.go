// Package fswatch implements a ChangeFeed over a directory tree.
//
// A channel is a slash-separated path under the root directory. Each file
// in that directory is an entity: its name without extension is the
// entity ID and the channel's last segment is the entity type. Hidden
// files and sub-directories are ignored.
package fswatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/propops/internal/adapters/driven/feed"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/logger"
)

// Ensure Feed implements the interface.
var _ driven.ChangeFeed = (*Feed)(nil)

// Feed turns file-system events into change events.
type Feed struct {
	root     string
	watcher  *fsnotify.Watcher
	registry *feed.Registry
	now      func() time.Time

	// mu serialises watcher registration with registry changes.
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New watches channels under root, creating it if needed.
func New(root string) (*Feed, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: watch directory is required", domain.ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating watch directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	f := &Feed{
		root:     abs,
		watcher:  watcher,
		registry: feed.NewRegistry(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go f.loop()
	return f, nil
}

// Root returns the watched root directory.
func (f *Feed) Root() string {
	return f.root
}

// Subscribe registers handler on channel. The channel directory is created
// and watched when its first handler registers.
func (f *Feed) Subscribe(_ context.Context, channel string, handler func(domain.ChangeEvent)) (driven.FeedSubscription, error) {
	if handler == nil || !validChannel(channel) {
		return nil, fmt.Errorf("%w: channel %q", domain.ErrInvalidInput, channel)
	}
	dir := f.dir(channel)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fsnotify.ErrClosed
	}

	id, first := f.registry.Add(channel, handler)
	if first {
		if err := f.watch(dir); err != nil {
			f.registry.Remove(channel, id)
			return nil, err
		}
	}

	return feed.NewSubscription(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.registry.Remove(channel, id) || f.closed {
			return nil
		}
		if err := f.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return fmt.Errorf("unwatching %s: %w", channel, err)
		}
		return nil
	}), nil
}

// Close stops watching.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *Feed) watch(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := f.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return nil
}

func (f *Feed) dir(channel string) string {
	return filepath.Join(f.root, filepath.FromSlash(channel))
}

func (f *Feed) loop() {
	defer close(f.done)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := f.handleFsEvent(event); ok {
				f.registry.Dispatch(ev)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("fswatch: %v", err)
		}
	}
}

// handleFsEvent maps a file-system event to a change event. Chmod-only
// events, directories and hidden files produce nothing.
func (f *Feed) handleFsEvent(event fsnotify.Event) (domain.ChangeEvent, bool) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return domain.ChangeEvent{}, false
	}

	var op domain.Operation
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = domain.OpDelete
	case event.Has(fsnotify.Create):
		op = domain.OpCreate
	case event.Has(fsnotify.Write):
		op = domain.OpUpdate
	default:
		return domain.ChangeEvent{}, false
	}

	if op != domain.OpDelete {
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return domain.ChangeEvent{}, false
		}
	}

	rel, err := filepath.Rel(f.root, filepath.Dir(event.Name))
	if err != nil {
		return domain.ChangeEvent{}, false
	}
	channel := filepath.ToSlash(rel)

	return domain.ChangeEvent{
		Channel:    channel,
		EntityType: path.Base(channel),
		EntityID:   strings.TrimSuffix(name, filepath.Ext(name)),
		Operation:  op,
		ReceivedAt: f.now(),
	}, true
}

// validChannel accepts clean relative slash paths that stay under root.
func validChannel(channel string) bool {
	if channel == "" || path.IsAbs(channel) || path.Clean(channel) != channel {
		return false
	}
	return channel != ".." && !strings.HasPrefix(channel, "../")
}
