package metrics

import (
	"github.com/luxfi/mdbook/pkg/book"
	"github.com/luxfi/mdbook/pkg/listener"
)

// Handler adapts BookMetrics to the listener callback interface so the
// pipeline can be instrumented by registration alone.
type Handler struct {
	m *BookMetrics
}

var _ listener.Handler = (*Handler)(nil)

// NewHandler wraps metrics as a book handler
func NewHandler(m *BookMetrics) *Handler {
	return &Handler{m: m}
}

func (h *Handler) OnBookRecap(b *book.OrderBook) {
	h.m.RecordRecap()
	h.updateDepth(b)
}

func (h *Handler) OnBookDelta(_ book.BasicDelta, b *book.OrderBook) {
	h.m.RecordDelta()
	h.updateDepth(b)
}

func (h *Handler) OnBookComplexDelta(_ *book.ComplexDelta, b *book.OrderBook) {
	h.m.RecordDelta()
	h.updateDepth(b)
}

func (h *Handler) OnBookClear(_ listener.ClearEvent, b *book.OrderBook) {
	h.updateDepth(b)
}

func (h *Handler) OnBookGap(listener.GapEvent, *book.OrderBook) {
	h.m.RecordGap()
}

func (h *Handler) updateDepth(b *book.OrderBook) {
	h.m.UpdateBookDepth(b.Symbol, book.Bid.String(), float64(b.LevelCount(book.Bid)))
	h.m.UpdateBookDepth(b.Symbol, book.Ask.String(), float64(b.LevelCount(book.Ask)))
}
