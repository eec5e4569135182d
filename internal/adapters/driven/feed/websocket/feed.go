// Package websocket implements a ChangeFeed over one WebSocket connection
// to the remote service.
//
// The client sends {"type":"subscribe","channel":C} when the first handler
// for C registers (and again after every reconnect) and
// {"type":"unsubscribe","channel":C} when the last one leaves. The server
// pushes {"type":"change","channel":C,...} frames; other frame types are
// ignored.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/custodia-labs/propops/internal/adapters/driven/feed"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/logger"
)

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameChange      = "change"
)

// Frame is the JSON message exchanged with the server.
type Frame struct {
	Type       string           `json:"type"`
	Channel    string           `json:"channel"`
	EntityType string           `json:"entity_type,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Operation  domain.Operation `json:"operation,omitempty"`
}

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("websocket feed closed")

// Ensure Feed implements the interface.
var _ driven.ChangeFeed = (*Feed)(nil)

// Feed keeps one connection open and re-establishes it with backoff.
type Feed struct {
	url       string
	header    func(ctx context.Context) (http.Header, error)
	baseDelay time.Duration
	maxDelay  time.Duration
	onState   func(connected bool)

	registry *feed.Registry

	// Owned by run.
	stateKnown bool
	lastState  bool

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Feed.
type Option func(*Feed)

// WithHeader supplies request headers (e.g. Authorization) for every dial.
func WithHeader(fn func(ctx context.Context) (http.Header, error)) Option {
	return func(f *Feed) {
		f.header = fn
	}
}

// WithConnectionHandler registers fn to be told when the feed connects or
// loses its connection. fn is called from the feed goroutine, only when the
// state changes; a failed first dial reports false.
func WithConnectionHandler(fn func(connected bool)) Option {
	return func(f *Feed) {
		f.onState = fn
	}
}

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(f *Feed) {
		f.baseDelay = base
		f.maxDelay = max
	}
}

// New creates a feed for url and starts connecting in the background.
func New(url string, opts ...Option) (*Feed, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: feed url is required", domain.ErrInvalidInput)
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		url:       url,
		baseDelay: time.Second,
		maxDelay:  time.Minute,
		registry:  feed.NewRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.run()
	return f, nil
}

// Subscribe registers handler on channel. The subscribe frame is sent now
// if connected, otherwise on the next connect.
func (f *Feed) Subscribe(ctx context.Context, channel string, handler func(domain.ChangeEvent)) (driven.FeedSubscription, error) {
	if channel == "" || handler == nil {
		return nil, fmt.Errorf("%w: channel and handler are required", domain.ErrInvalidInput)
	}
	if f.ctx.Err() != nil {
		return nil, ErrClosed
	}

	id, first := f.registry.Add(channel, handler)
	if first {
		if err := f.send(ctx, Frame{Type: FrameSubscribe, Channel: channel}); err != nil {
			logger.Debug("websocket feed: deferred subscribe %s: %v", channel, err)
		}
	}

	return feed.NewSubscription(func() error {
		if !f.registry.Remove(channel, id) {
			return nil
		}
		if err := f.send(context.Background(), Frame{Type: FrameUnsubscribe, Channel: channel}); err != nil {
			logger.Debug("websocket feed: unsubscribe %s: %v", channel, err)
		}
		return nil
	}), nil
}

// Connected reports whether a connection is currently open.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

// Close stops reconnecting and closes the connection.
func (f *Feed) Close() error {
	f.cancel()
	<-f.done
	return nil
}

// send writes a frame on the open connection. Not being connected is
// reported but harmless: run re-sends subscriptions on connect.
func (f *Feed) send(ctx context.Context, frame Frame) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}

func (f *Feed) run() {
	defer close(f.done)

	attempt := 0
	for {
		connected, err := f.session()
		if f.ctx.Err() != nil {
			return
		}
		f.report(false)
		if connected {
			attempt = 0
		}
		delay := domain.Backoff(f.baseDelay, f.maxDelay, attempt)
		attempt++
		logger.Warn("websocket feed: %v; reconnecting in %s", err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-f.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// report forwards a connectivity change to the connection handler.
func (f *Feed) report(connected bool) {
	if f.onState == nil || (f.stateKnown && f.lastState == connected) {
		return
	}
	f.stateKnown = true
	f.lastState = connected
	f.onState(connected)
}

// session dials, replays subscriptions and reads until the connection
// fails. connected reports whether the dial succeeded.
func (f *Feed) session() (connected bool, err error) {
	opts := &websocket.DialOptions{}
	if f.header != nil {
		h, err := f.header(f.ctx)
		if err != nil {
			return false, fmt.Errorf("building headers: %w", err)
		}
		opts.HTTPHeader = h
	}

	conn, _, err := websocket.Dial(f.ctx, f.url, opts)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	for _, ch := range f.registry.Channels() {
		if err := wsjson.Write(f.ctx, conn, Frame{Type: FrameSubscribe, Channel: ch}); err != nil {
			return true, fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}
	logger.Debug("websocket feed: connected to %s", f.url)
	f.report(true)

	for {
		var frame Frame
		if err := wsjson.Read(f.ctx, conn, &frame); err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if frame.Type != FrameChange || frame.Channel == "" {
			continue
		}
		f.registry.Dispatch(domain.ChangeEvent{
			Channel:    frame.Channel,
			EntityType: frame.EntityType,
			EntityID:   frame.EntityID,
			Operation:  frame.Operation,
			ReceivedAt: time.Now(),
		})
	}
}
