package subscription

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Keys is the client key material needed to encrypt a push message
// for one device registration.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one device registration owned by a student. A student
// may hold any number of them; each is pruned independently once the
// push service reports the endpoint gone.
type Subscription struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Endpoint  string    `json:"endpoint"`
	Keys      Keys      `json:"keys"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrBadEndpoint = errors.New("endpoint must be an absolute https URL")
	ErrMissingKeys = errors.New("subscription keys p256dh and auth are required")
)

// Validate checks the endpoint descriptor before it is persisted.
// Descriptors arrive from browsers as untyped JSON; anything that does
// not look like a deliverable web-push registration is rejected here
// rather than at send time.
func (s *Subscription) Validate() error {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return ErrBadEndpoint
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return ErrMissingKeys
	}
	return nil
}
