package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/logger"
)

// PostgresLog stores audit events in an append-only table:
//
//	CREATE TABLE audit_events (
//	    id         BIGSERIAL PRIMARY KEY,
//	    topic      TEXT        NOT NULL,
//	    event_type TEXT        NOT NULL,
//	    rental_id  TEXT        NOT NULL,
//	    payload    JSONB       NOT NULL,
//	    created_on TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Append(ctx context.Context, topic string, event domain.AuditEvent) (Receipt, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Receipt{}, domain.Dependency("audit-log", err)
	}

	query := `INSERT INTO audit_events (topic, event_type, rental_id, payload)
	          VALUES ($1, $2, $3, $4) RETURNING id, created_on`
	logger.DatabaseCall("insert", query, "event_type", event.EventType(), "rental_id", event.RentalRef())

	var (
		seq       int64
		createdOn time.Time
	)
	err = l.db.QueryRowContext(ctx, query, topic, event.EventType(), event.RentalRef(), payload).Scan(&seq, &createdOn)
	logger.DatabaseResult("insert", 1, err)
	if err != nil {
		return Receipt{}, domain.Dependency("audit-log", err)
	}
	return Receipt{Sequence: seq, Timestamp: createdOn}, nil
}
