package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/mdbook/pkg/book"
	"github.com/luxfi/mdbook/pkg/listener"
)

// snapshotRequest is the request-reply payload for on-demand depth images
type snapshotRequest struct {
	Symbol    string `json:"symbol"`
	MaxLevels int    `json:"maxLevels"`
}

// SnapshotServer answers depth requests on md.snapshot.<symbol> from a set
// of locally maintained books.
type SnapshotServer struct {
	nc     *nats.Conn
	logger log.Logger
	books  map[string]*book.OrderBook
	subs   []*nats.Subscription
}

// NewSnapshotServer creates a server over books keyed by symbol
func NewSnapshotServer(nc *nats.Conn, books map[string]*book.OrderBook, logger log.Logger) *SnapshotServer {
	return &SnapshotServer{nc: nc, books: books, logger: logger}
}

// Start subscribes one responder per book
func (s *SnapshotServer) Start() error {
	for symbol, b := range s.books {
		b := b
		sub, err := s.nc.Subscribe(snapshotPrefix+symbol, func(m *nats.Msg) {
			s.respond(b, m)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Stop drains the responders
func (s *SnapshotServer) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *SnapshotServer) respond(b *book.OrderBook, m *nats.Msg) {
	var req snapshotRequest
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &req); err != nil {
			s.logger.Warn("Bad snapshot request", "symbol", b.Symbol, "error", err)
			return
		}
	}
	data, err := json.Marshal(b.Depth(req.MaxLevels))
	if err != nil {
		s.logger.Error("Marshal snapshot failed", "symbol", b.Symbol, "error", err)
		return
	}
	if err := m.Respond(data); err != nil {
		s.logger.Warn("Snapshot reply failed", "symbol", b.Symbol, "error", err)
	}
}

// SnapshotClient fetches depth images over NATS request-reply. It plugs into
// the book checker as its snapshot source.
type SnapshotClient struct {
	nc *nats.Conn
}

var _ listener.SnapshotSource = (*SnapshotClient)(nil)

// NewSnapshotClient creates a client on an established connection
func NewSnapshotClient(nc *nats.Conn) *SnapshotClient {
	return &SnapshotClient{nc: nc}
}

// FetchDepth requests a depth image for symbol, blocking until reply or ctx end
func (c *SnapshotClient) FetchDepth(ctx context.Context, symbol string, maxLevels int) (*book.BookDepth, error) {
	payload, err := json.Marshal(snapshotRequest{Symbol: symbol, MaxLevels: maxLevels})
	if err != nil {
		return nil, err
	}
	msg, err := c.nc.RequestWithContext(ctx, snapshotPrefix+symbol, payload)
	if err != nil {
		return nil, fmt.Errorf("snapshot request %s: %w", symbol, err)
	}
	var depth book.BookDepth
	if err := json.Unmarshal(msg.Data, &depth); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", symbol, err)
	}
	return &depth, nil
}
