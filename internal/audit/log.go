// Package audit appends structured lifecycle events to an append-only log.
package audit

import (
	"context"
	"time"

	"agentlease-backend/internal/domain"
)

// Receipt acknowledges a durable append.
type Receipt struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is the consumed audit-log interface. Every lifecycle transition
// appends exactly one event before the operation returns to its caller.
type Log interface {
	Append(ctx context.Context, topic string, event domain.AuditEvent) (Receipt, error)
}
