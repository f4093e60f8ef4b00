// Package publish delivers book images, deltas and field-cache delta
// messages to downstream consumers over NATS subjects.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/luxfi/mdbook/pkg/book"
	"github.com/luxfi/mdbook/pkg/fieldcache"
	"github.com/luxfi/mdbook/pkg/listener"
)

// Subject layout
const (
	subjectBookPrefix  = "md.book."
	subjectDeltaPrefix = "md.delta."
	subjectEventPrefix = "md.event."
	subjectFieldPrefix = "md.fields."
	snapshotPrefix     = "md.snapshot."
)

// wireDelta is the JSON shape of one basic delta
type wireDelta struct {
	Price       decimal.Decimal `json:"price"`
	Side        string          `json:"side"`
	EntryID     string          `json:"entryId,omitempty"`
	DeltaSize   decimal.Decimal `json:"deltaSize"`
	LevelSize   decimal.Decimal `json:"levelSize"`
	LevelAction string          `json:"levelAction"`
	EntryAction string          `json:"entryAction,omitempty"`
}

// wireEvent is the JSON shape of gap/clear notifications
type wireEvent struct {
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol"`
	BeginSeq  uint64    `json:"beginSeq,omitempty"`
	EndSeq    uint64    `json:"endSeq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher serializes book callbacks to NATS. It is a listener handler:
// register it and every recap, delta and gap goes out on the wire.
type Publisher struct {
	nc        *nats.Conn
	logger    log.Logger
	maxLevels int
	onPublish func() // optional counter hook
}

var _ listener.Handler = (*Publisher)(nil)

// NewPublisher creates a publisher on an established NATS connection.
// maxLevels bounds published depth images; <= 0 publishes full books.
func NewPublisher(nc *nats.Conn, maxLevels int, logger log.Logger) *Publisher {
	return &Publisher{nc: nc, maxLevels: maxLevels, logger: logger}
}

// SetPublishHook installs a callback invoked after each publish, for metrics
func (p *Publisher) SetPublishHook(fn func()) {
	p.onPublish = fn
}

// OnBookRecap publishes a full depth image
func (p *Publisher) OnBookRecap(b *book.OrderBook) {
	p.publishJSON(subjectBookPrefix+b.Symbol, b.Depth(p.maxLevels))
}

// OnBookDelta publishes a single-level change
func (p *Publisher) OnBookDelta(d book.BasicDelta, b *book.OrderBook) {
	p.publishJSON(subjectDeltaPrefix+b.Symbol, []wireDelta{toWire(d)})
}

// OnBookComplexDelta publishes a multi-level change as one message
func (p *Publisher) OnBookComplexDelta(cd *book.ComplexDelta, b *book.OrderBook) {
	out := make([]wireDelta, 0, cd.Size())
	for i := range cd.Deltas {
		out = append(out, toWire(cd.Deltas[i]))
	}
	p.publishJSON(subjectDeltaPrefix+b.Symbol, out)
}

// OnBookClear publishes a clear notification
func (p *Publisher) OnBookClear(ev listener.ClearEvent, b *book.OrderBook) {
	p.publishJSON(subjectEventPrefix+b.Symbol, wireEvent{
		Type: "clear", Symbol: ev.Symbol, Timestamp: ev.Timestamp,
	})
}

// OnBookGap publishes a gap notification
func (p *Publisher) OnBookGap(ev listener.GapEvent, b *book.OrderBook) {
	p.publishJSON(subjectEventPrefix+b.Symbol, wireEvent{
		Type: "gap", Symbol: ev.Symbol,
		BeginSeq: ev.BeginSeqNum, EndSeq: ev.EndSeqNum, Timestamp: ev.Timestamp,
	})
}

// PublishFieldDelta extracts the cache's dirty set and publishes it as one
// delta message. The extraction consumes the dirty set.
func (p *Publisher) PublishFieldDelta(symbol string, cache *fieldcache.Cache) error {
	msg := fieldcache.NewMapMessage()
	if err := cache.GetDeltaMessage(msg); err != nil {
		return err
	}
	if msg.Len() == 0 {
		return nil
	}
	return p.publishFields(symbol, msg)
}

// PublishFieldImage publishes every publishable cached field
func (p *Publisher) PublishFieldImage(symbol string, cache *fieldcache.Cache) error {
	msg := fieldcache.NewMapMessage()
	if err := cache.GetFullMessage(msg); err != nil {
		return err
	}
	return p.publishFields(symbol, msg)
}

func (p *Publisher) publishFields(symbol string, msg *fieldcache.MapMessage) error {
	out := make(map[string]any, msg.Len())
	msg.EachField(func(u fieldcache.FieldUpdate) bool {
		key := u.Name
		if key == "" {
			key = fmt.Sprintf("fid%d", u.FID)
		}
		out[key] = u.Value
		return true
	})
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(subjectFieldPrefix+symbol, data); err != nil {
		return err
	}
	if p.onPublish != nil {
		p.onPublish()
	}
	return nil
}

func (p *Publisher) publishJSON(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Marshal failed", "subject", subject, "error", err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("Publish failed", "subject", subject, "error", err)
		return
	}
	if p.onPublish != nil {
		p.onPublish()
	}
}

func toWire(d book.BasicDelta) wireDelta {
	w := wireDelta{
		DeltaSize:   d.DeltaSize,
		LevelAction: d.LevelAction.String(),
	}
	if d.Level != nil {
		w.Price = d.Level.Price
		w.Side = d.Level.Side.String()
		w.LevelSize = d.Level.Size
	}
	if d.Entry != nil {
		w.EntryID = d.Entry.ID
		w.EntryAction = d.EntryAction.String()
	}
	return w
}
