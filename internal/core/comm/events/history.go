package events

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/plugmesh/plugmesh/pkg/sequence"
	"github.com/plugmesh/plugmesh/pkg/variant"
)

// HistoryEntry retains one published event as a structured tree, independent
// of whether anything subscribed to it.
type HistoryEntry struct {
	Record      variant.Value `json:"record"`
	Fingerprint uint64        `json:"fingerprint"`
	At          time.Time     `json:"at"`
}

// history is the bounded ring of recently published events.
type history struct {
	mu   sync.Mutex
	ring *sequence.Ring[HistoryEntry]
}

func newHistory(size int) *history {
	if size < 1 {
		size = 1
	}
	return &history{ring: sequence.NewRing[HistoryEntry](size)}
}

func (h *history) record(ev *Event) {
	tree := ev.Record()
	var fp uint64
	if data, err := tree.MarshalJSON(); err == nil {
		fp = xxhash.Sum64(data)
	}
	h.mu.Lock()
	h.ring.Push(HistoryEntry{Record: tree, Fingerprint: fp, At: time.Now()})
	h.mu.Unlock()
}

func (h *history) snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ring.Snapshot()
}
