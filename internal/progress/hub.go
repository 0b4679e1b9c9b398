// Package progress fans indexing progress out to any number of subscribers,
// such as websocket clients.
package progress

import (
	"sync"

	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// DefaultBuffer is the per subscriber queue length.
const DefaultBuffer = 64

// Hub broadcasts indexer progress. A subscriber whose queue is full is
// dropped; it can subscribe again and resume from Last.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	last   *indexer.Progress
	closed bool
	logger *zap.Logger
}

type subscriber struct {
	ch chan indexer.Progress
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{subs: make(map[*subscriber]struct{}), logger: utils.LoggerOrNop(logger)}
}

// Publish delivers p to every subscriber without blocking. It has the
// signature of indexer.ProgressFunc.
func (h *Hub) Publish(p indexer.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = &p
	for s := range h.subs {
		select {
		case s.ch <- p:
		default:
			delete(h.subs, s)
			close(s.ch)
			h.logger.Warn("progress subscriber too slow, dropped")
		}
	}
}

// Subscribe returns a channel of progress updates and a function that ends
// the subscription. The channel is closed when the subscription ends, the
// subscriber falls behind or the hub closes. The latest update, if any, is
// queued first.
func (h *Hub) Subscribe() (<-chan indexer.Progress, func()) {
	s := &subscriber{ch: make(chan indexer.Progress, DefaultBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	if h.last != nil {
		s.ch <- *h.last
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
		})
	}
}

// Last returns the most recent update.
func (h *Hub) Last() (indexer.Progress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return indexer.Progress{}, false
	}
	return *h.last, true
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	h.subs = nil
}
