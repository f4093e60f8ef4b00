// Package feed connects to an upstream market-data websocket and turns its
// frames into book updates for the listeners downstream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/mdbook/pkg/book"
	"github.com/luxfi/mdbook/pkg/listener"
)

// frame is the upstream wire envelope. Type selects how the payload is
// applied: "recap" replaces the book, "delta" applies incrementally,
// "clear" empties it.
type frame struct {
	Type      string             `json:"type"`
	Symbol    string             `json:"symbol"`
	SeqNum    uint64             `json:"seqNum"`
	Timestamp time.Time          `json:"timestamp"`
	Updates   []book.EntryUpdate `json:"updates"`
}

// SubscribeRequest is the subscription message sent after connect
type SubscribeRequest struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Depth   int      `json:"depth,omitempty"`
}

// Sink consumes decoded updates. Listeners satisfy it directly.
type Sink interface {
	OnMsg(u *book.BookUpdate, mt listener.MsgType)
}

// Config controls the feed client
type Config struct {
	URL           string
	Symbols       []string
	Depth         int
	DialTimeout   time.Duration
	ReconnectWait time.Duration
}

// DefaultConfig returns a config with sane timeouts
func DefaultConfig() Config {
	return Config{
		Depth:         0,
		DialTimeout:   10 * time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// Client maintains one websocket connection and routes decoded frames to
// per-symbol sinks. Unknown symbols are dropped with a warning.
type Client struct {
	cfg    Config
	logger log.Logger

	mu    sync.RWMutex
	sinks map[string]Sink

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a feed client. Register sinks before Start.
func NewClient(cfg Config, logger log.Logger) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		sinks:  make(map[string]Sink),
	}
}

// Register routes updates for symbol to sink
func (c *Client) Register(symbol string, sink Sink) {
	c.mu.Lock()
	c.sinks[symbol] = sink
	c.mu.Unlock()
}

// Start launches the connect/read loop. It reconnects on failure until the
// context is canceled or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	if _, err := url.Parse(c.cfg.URL); err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop ends the read loop and waits for it
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Feed connection lost, reconnecting",
				"url", c.cfg.URL, "wait", c.cfg.ReconnectWait, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectWait):
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.cfg.DialTimeout

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	sub := SubscribeRequest{Type: "subscribe", Symbols: c.cfg.Symbols, Depth: c.cfg.Depth}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("Feed subscribed", "url", c.cfg.URL, "symbols", c.cfg.Symbols)

	// Unblock ReadMessage when the context ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	u, mt, err := DecodeFrame(data)
	if err != nil {
		c.logger.Warn("Dropping undecodable frame", "error", err)
		return
	}
	if u == nil {
		return
	}
	c.mu.RLock()
	sink, ok := c.sinks[u.Symbol]
	c.mu.RUnlock()
	if !ok {
		c.logger.Warn("No sink for symbol", "symbol", u.Symbol)
		return
	}
	sink.OnMsg(u, mt)
}

// DecodeFrame parses one wire frame into a book update and its message type.
// Frames with an unknown type return a nil update and no error so callers
// can skip heartbeats and acks.
func DecodeFrame(data []byte) (*book.BookUpdate, listener.MsgType, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, 0, fmt.Errorf("decode frame: %w", err)
	}

	var mt listener.MsgType
	switch f.Type {
	case "recap", "snapshot":
		mt = listener.MsgRecap
	case "delta", "update":
		mt = listener.MsgDelta
	case "clear":
		mt = listener.MsgClear
	default:
		return nil, 0, nil
	}

	u := &book.BookUpdate{
		Symbol:    f.Symbol,
		SeqNum:    f.SeqNum,
		IsRecap:   mt == listener.MsgRecap,
		Timestamp: f.Timestamp,
		Updates:   f.Updates,
	}
	return u, mt, nil
}
