package pushd

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
)

// Summon pushes a call-up notice to one student's devices. Summons are
// never deduplicated: a teacher calling twice means call twice. Returns
// ErrNoSubscription when the student has no registered device.
func (s *Service) Summon(ctx context.Context, studentID, teacherName string) (int, error) {
	subs, err := s.Subs.ListByStudent(ctx, studentID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, ErrNoSubscription
	}

	payload, err := json.Marshal(dispatch.Payload{
		Title: "Seiryo Hall",
		Body:  fmt.Sprintf("%s is calling for you. Please come to the staff room.", teacherName),
		URL:   "/",
		Badge: 1,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	res := s.Disp.Dispatch(ctx, payload, subs)
	s.mSummons.Inc()
	s.Log.Info("summon dispatched",
		zap.String("student_id", studentID),
		zap.Int("sent", res.Sent),
		zap.Int("total", res.Total),
	)
	return res.Sent, nil
}
