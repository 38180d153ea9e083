package models

import "sync"

// EpochRecord is the metric mapping reported for one epoch
type EpochRecord map[string]any

// History is the ordered, append-only sequence of epoch records of one run.
// Records keep arrival order; the epoch index of each record is its 1-based
// position.
type History struct {
	mu         sync.Mutex
	records    []EpochRecord
	outOfOrder int
	lastEpoch  float64
}

// Append adds a record and returns its epoch index. A record whose own
// "epoch" value does not increase is still kept and counted as out of order.
func (h *History) Append(rec EpochRecord) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cp := make(EpochRecord, len(rec))
	for k, v := range rec {
		cp[k] = v
	}

	if e, ok := numeric(cp["epoch"]); ok {
		if len(h.records) > 0 && e <= h.lastEpoch {
			h.outOfOrder++
		}
		h.lastEpoch = e
	}

	h.records = append(h.records, cp)
	return len(h.records)
}

// Len returns the number of epochs recorded
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// OutOfOrder returns how many records reported a non-increasing epoch value
func (h *History) OutOfOrder() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outOfOrder
}

// Records returns a copy of the recorded epochs
func (h *History) Records() []EpochRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EpochRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Last returns the final row, if any
func (h *History) Last() (EpochRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return nil, false
	}
	return h.records[len(h.records)-1], true
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
