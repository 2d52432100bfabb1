package tools

import (
	"sync"
	"time"
)

// UsageTracker records the tool calls of one run in order. The agent's loop
// detector and the memory capturer both read from it.
type UsageTracker struct {
	mu      sync.Mutex
	records []UsageRecord
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// Record appends one completed call.
func (t *UsageTracker) Record(call Call, result *Result, startedAt time.Time) {
	rec := UsageRecord{
		Tool:      call.Name,
		Args:      call.Args,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
	}
	if result != nil {
		rec.OK = result.OK
		rec.ErrorCode = result.ErrorCode
	}
	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()
}

// Records returns a copy of all records in execution order.
func (t *UsageTracker) Records() []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UsageRecord, len(t.records))
	copy(out, t.records)
	return out
}

// LastN returns the most recent n records, oldest first.
func (t *UsageTracker) LastN(n int) []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > len(t.records) {
		n = len(t.records)
	}
	out := make([]UsageRecord, n)
	copy(out, t.records[len(t.records)-n:])
	return out
}

// Len returns the number of recorded calls.
func (t *UsageTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
