package comm

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/plugmesh/plugmesh/pkg/sequence"
	"github.com/plugmesh/plugmesh/pkg/variant"
)

// JournalRecord is one diagnostics entry: a structured tree describing a
// published message or event, plus a content fingerprint of its JSON form.
type JournalRecord struct {
	Kind        string        `json:"kind"`
	Record      variant.Value `json:"record"`
	Fingerprint uint64        `json:"fingerprint"`
	LoggedAt    time.Time     `json:"logged_at"`
}

// Journal is a bounded append-only log of message/event records, kept only
// when diagnostics are enabled. Oldest records are evicted first.
type Journal struct {
	mu      sync.Mutex
	ring    *sequence.Ring[JournalRecord]
	enabled bool
}

func NewJournal(size int, enabled bool) *Journal {
	if size < 1 {
		size = 1
	}
	return &Journal{ring: sequence.NewRing[JournalRecord](size), enabled: enabled}
}

func (j *Journal) Enabled() bool {
	if j == nil {
		return false
	}
	return j.enabled
}

// Append records a structured tree under the given kind ("message" or
// "event"). No-op when the journal is disabled.
func (j *Journal) Append(kind string, record variant.Value) {
	if !j.Enabled() {
		return
	}
	data, err := record.MarshalJSON()
	if err != nil {
		return
	}
	rec := JournalRecord{
		Kind:        kind,
		Record:      record,
		Fingerprint: xxhash.Sum64(data),
		LoggedAt:    time.Now(),
	}
	j.mu.Lock()
	j.ring.Push(rec)
	j.mu.Unlock()
}

// Snapshot returns the retained records, oldest first.
func (j *Journal) Snapshot() []JournalRecord {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ring.Snapshot()
}

// Len reports the current record count.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ring.Len()
}
