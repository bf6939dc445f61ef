package audit

import (
	"context"
	"sync"
	"time"

	"agentlease-backend/internal/domain"
)

// Entry is one appended event as retained by MemLog.
type Entry struct {
	Topic    string
	Event    domain.AuditEvent
	Sequence int64
}

// MemLog keeps events in memory. Used by tests and dev mode.
type MemLog struct {
	mu      sync.Mutex
	entries []Entry
	seq     int64
}

func NewMemLog() *MemLog {
	return &MemLog{}
}

func (l *MemLog) Append(_ context.Context, topic string, event domain.AuditEvent) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.entries = append(l.entries, Entry{Topic: topic, Event: event, Sequence: l.seq})
	return Receipt{Sequence: l.seq, Timestamp: time.Now()}, nil
}

// Entries returns a copy of everything appended so far.
func (l *MemLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
