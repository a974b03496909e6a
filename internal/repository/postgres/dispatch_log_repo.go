package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
)

var _ dispatch.Ledger = (*DispatchLogRepoImpl)(nil)

// DispatchLogRepoImpl persists the broadcast idempotency ledger. The
// table carries a primary key on (event_date, event_type); a losing
// concurrent Record hits that constraint and is reported as
// dispatch.ErrAlreadyRecorded instead of a raw SQL error.
type DispatchLogRepoImpl struct{ db *DB }

func NewDispatchLogRepo(db *DB) *DispatchLogRepoImpl { return &DispatchLogRepoImpl{db: db} }

const (
	qLogInsert = `
INSERT INTO dispatch_log (event_date, event_type, sent_count, recorded_at)
VALUES ($1, $2, $3, COALESCE($4, now()))
RETURNING recorded_at;
`
	qLogByKey = `
SELECT event_date, event_type, sent_count, recorded_at
FROM dispatch_log
WHERE event_date = $1 AND event_type = $2;
`
)

const uniqueViolation = "23505"

func (r *DispatchLogRepoImpl) GetByKey(ctx context.Context, date time.Time, typ dispatch.EventType) (*dispatch.LogEntry, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var e dispatch.LogEntry
	err := r.db.Pool.QueryRow(ctx, qLogByKey, date, string(typ)).
		Scan(&e.EventDate, &e.EventType, &e.SentCount, &e.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dispatch.ErrNotRecorded
	}
	if err != nil {
		return nil, fmt.Errorf("query dispatch log: %w", err)
	}
	return &e, nil
}

func (r *DispatchLogRepoImpl) Record(ctx context.Context, e *dispatch.LogEntry) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.Pool.QueryRow(ctx, qLogInsert,
		e.EventDate,
		string(e.EventType),
		e.SentCount,
		nullTime(e.RecordedAt),
	).Scan(&e.RecordedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return dispatch.ErrAlreadyRecorded
		}
		return fmt.Errorf("insert dispatch log: %w", err)
	}
	return nil
}
