package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seiryo-hall/dormpush/internal/domain/subscription"
)

var _ subscription.Repo = (*SubscriptionRepoImpl)(nil)

type SubscriptionRepoImpl struct{ db *DB }

func NewSubscriptionRepo(db *DB) *SubscriptionRepoImpl { return &SubscriptionRepoImpl{db: db} }

const (
	qSubInsert = `
INSERT INTO push_subscriptions (id, student_id, descriptor, created_at)
VALUES ($1, $2, $3, COALESCE($4, now()))
RETURNING created_at;
`
	qSubByStudent = `
SELECT id, student_id, descriptor, created_at
FROM push_subscriptions
WHERE student_id = $1
ORDER BY created_at;
`
	qSubAll = `
SELECT id, student_id, descriptor, created_at
FROM push_subscriptions
ORDER BY created_at;
`
	qSubDelete = `
DELETE FROM push_subscriptions WHERE id = $1;
`
)

// descriptor is the persisted JSON shape: the push endpoint plus the
// per-device key material, stored as one jsonb column.
type descriptor struct {
	Endpoint string            `json:"endpoint"`
	Keys     subscription.Keys `json:"keys"`
}

func (r *SubscriptionRepoImpl) Create(ctx context.Context, s *subscription.Subscription) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	raw, err := json.Marshal(descriptor{Endpoint: s.Endpoint, Keys: s.Keys})
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.Pool.QueryRow(ctx, qSubInsert,
		s.ID,
		s.StudentID,
		raw,
		nullTime(s.CreatedAt),
	).Scan(&s.CreatedAt); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepoImpl) ListByStudent(ctx context.Context, studentID string) ([]*subscription.Subscription, error) {
	return r.list(ctx, qSubByStudent, studentID)
}

func (r *SubscriptionRepoImpl) ListAll(ctx context.Context) ([]*subscription.Subscription, error) {
	return r.list(ctx, qSubAll)
}

func (r *SubscriptionRepoImpl) list(ctx context.Context, q string, args ...any) ([]*subscription.Subscription, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		var (
			s   subscription.Subscription
			raw []byte
		)
		if err := rows.Scan(&s.ID, &s.StudentID, &raw, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		var d descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("unmarshal descriptor: %w", err)
		}
		s.Endpoint = d.Endpoint
		s.Keys = d.Keys
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Remove deletes one subscription. Deleting an absent id is a no-op;
// pruning may race with itself across concurrent dispatches.
func (r *SubscriptionRepoImpl) Remove(ctx context.Context, id string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qSubDelete, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
