// Package push wraps the web-push protocol: one encrypted delivery per
// endpoint, VAPID-signed sender identity, outcome classification.
package push

import (
	"context"
	"errors"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
	"github.com/seiryo-hall/dormpush/internal/domain/subscription"
)

var ErrNoVAPIDKeys = errors.New("push: VAPID key pair is not configured")

type Config struct {
	// Subscriber is the contact address presented to push services;
	// webpush-go prefixes mailto: itself.
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             time.Duration
	Timeout         time.Duration
}

type Sender struct {
	opts    webpush.Options
	client  *http.Client
	timeout time.Duration

	log *zap.Logger
}

var _ dispatch.Sender = (*Sender)(nil)

// New builds the sender. Delivery is impossible without a VAPID key
// pair, so construction fails closed when either half is missing.
func New(cfg Config) (*Sender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, ErrNoVAPIDKeys
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := int(cfg.TTL / time.Second)
	if ttl <= 0 {
		ttl = 3600
	}
	return &Sender{
		opts: webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             ttl,
			Urgency:         webpush.UrgencyNormal,
		},
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     zap.L().With(zap.String("component", "push.sender")),
	}, nil
}

func (s *Sender) WithLogger(l *zap.Logger) *Sender {
	if l == nil {
		return s
	}
	cp := *s
	cp.log = l.With(zap.String("component", "push.sender"))
	return &cp
}

// PublicKey exposes the VAPID public key so clients can subscribe.
func (s *Sender) PublicKey() string { return s.opts.VAPIDPublicKey }

// Send delivers one payload to one subscription. Exactly one attempt:
// 2xx is success, 404/410 marks the endpoint expired (caller prunes),
// everything else, including transport errors and the per-attempt
// timeout, is transient.
func (s *Sender) Send(ctx context.Context, sub *subscription.Subscription, payload []byte) dispatch.Outcome {
	opts := s.opts
	opts.HTTPClient = s.client

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &opts)
	if err != nil {
		s.log.Warn("push send failed",
			zap.String("subscription_id", sub.ID),
			zap.Error(err),
		)
		return dispatch.Outcome{SubscriptionID: sub.ID, Kind: dispatch.FailureTransient}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.log.Debug("push delivered",
			zap.String("subscription_id", sub.ID),
			zap.Int("status", resp.StatusCode),
		)
		return dispatch.Outcome{SubscriptionID: sub.ID, OK: true, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		s.log.Info("push endpoint expired",
			zap.String("subscription_id", sub.ID),
			zap.Int("status", resp.StatusCode),
		)
		return dispatch.Outcome{SubscriptionID: sub.ID, Kind: dispatch.FailureExpired, StatusCode: resp.StatusCode}
	default:
		s.log.Warn("push rejected",
			zap.String("subscription_id", sub.ID),
			zap.Int("status", resp.StatusCode),
		)
		return dispatch.Outcome{SubscriptionID: sub.ID, Kind: dispatch.FailureTransient, StatusCode: resp.StatusCode}
	}
}
