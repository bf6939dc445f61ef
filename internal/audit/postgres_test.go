package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentlease-backend/internal/domain"
)

func TestPostgresLogAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLog(db)
	createdOn := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event := domain.RentalInitiated{
		RentalID: "rental-1",
		AgentID:  "agent-1",
		RenterID: "acct-renter",
	}

	mock.ExpectQuery("INSERT INTO audit_events").
		WithArgs("topic-agent-1", "rental_initiated", "rental-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_on"}).AddRow(int64(7), createdOn))

	receipt, err := l.Append(context.Background(), "topic-agent-1", event)
	require.NoError(t, err)
	assert.Equal(t, int64(7), receipt.Sequence)
	assert.True(t, receipt.Timestamp.Equal(createdOn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogAppendFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLog(db)

	mock.ExpectQuery("INSERT INTO audit_events").
		WillReturnError(errors.New("connection reset"))

	_, err = l.Append(context.Background(), "topic-agent-1", domain.RentalCompleted{RentalID: "rental-1"})
	require.Error(t, err)
	var depErr *domain.DependencyError
	assert.ErrorAs(t, err, &depErr)
	assert.Equal(t, "audit-log", depErr.Dependency)
}

func TestMemLogSequencesMonotonically(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()

	r1, err := l.Append(ctx, "topic-a", domain.RentalInitiated{RentalID: "rental-1"})
	require.NoError(t, err)
	r2, err := l.Append(ctx, "topic-b", domain.RentalCompleted{RentalID: "rental-1"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), r1.Sequence)
	assert.Equal(t, int64(2), r2.Sequence)

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "topic-a", entries[0].Topic)
	assert.Equal(t, "rental_completed", entries[1].Event.EventType())
}
