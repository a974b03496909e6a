package subscription

import "context"

type Repo interface {
	Create(ctx context.Context, s *Subscription) error
	ListByStudent(ctx context.Context, studentID string) ([]*Subscription, error)
	ListAll(ctx context.Context) ([]*Subscription, error)
	// Remove is idempotent: removing an id that is already gone is not
	// an error.
	Remove(ctx context.Context, id string) error
}
