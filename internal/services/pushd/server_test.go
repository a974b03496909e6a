package pushd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(sender *fakeSender, subs *fakeSubRepo, ledger *fakeLedger) *Server {
	svc := newTestService(sender, subs, ledger)
	return NewServer(zap.NewNop(), svc, subs, "test-public-key", func(context.Context) error { return nil })
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestHandleBroadcast(t *testing.T) {
	subs := &fakeSubRepo{}
	require.NoError(t, subs.Create(context.Background(), sub("a", "stu-1")))
	ledger := newFakeLedger()
	h := newTestServer(&fakeSender{}, subs, ledger).Router()

	rec, out := doJSON(t, h, http.MethodPost, "/v1/broadcasts",
		`{"date":"2026-08-30","type":"PERIOD_START"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(1), out["sent"])
	assert.Equal(t, float64(1), out["total"])

	rec, out = doJSON(t, h, http.MethodPost, "/v1/broadcasts",
		`{"date":"2026-08-30","type":"PERIOD_START"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Already sent", out["message"])
	assert.Equal(t, float64(1), out["sent_count"])
}

func TestHandleBroadcast_Validation(t *testing.T) {
	ledger := newFakeLedger()
	h := newTestServer(&fakeSender{}, &fakeSubRepo{}, ledger).Router()

	tests := []struct {
		name string
		body string
	}{
		{"bogus type", `{"date":"2026-08-30","type":"bogus"}`},
		{"bad date", `{"date":"today","type":"PERIOD_START"}`},
		{"not json", `{`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, out := doJSON(t, h, http.MethodPost, "/v1/broadcasts", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
	assert.Equal(t, 0, ledger.getCalls, "validation failures never reach the ledger")
}

func TestHandleSummon(t *testing.T) {
	subs := &fakeSubRepo{}
	require.NoError(t, subs.Create(context.Background(), sub("phone", "stu-7")))
	h := newTestServer(&fakeSender{}, subs, newFakeLedger()).Router()

	rec, out := doJSON(t, h, http.MethodPost, "/v1/summons",
		`{"student_id":"stu-7","teacher_name":"Tanaka"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(1), out["count"])

	rec, out = doJSON(t, h, http.MethodPost, "/v1/summons",
		`{"student_id":"stu-404","teacher_name":"Tanaka"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_subscription", out["status"])

	rec, out = doJSON(t, h, http.MethodPost, "/v1/summons", `{"student_id":"stu-7"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, out["error"])
}

func TestHandleRegister(t *testing.T) {
	subs := &fakeSubRepo{}
	h := newTestServer(&fakeSender{}, subs, newFakeLedger()).Router()

	rec, out := doJSON(t, h, http.MethodPost, "/v1/subscriptions",
		`{"student_id":"stu-7","subscription":{"endpoint":"https://push.example.org/reg/1","keys":{"p256dh":"pk","auth":"ak"}}}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.NotEmpty(t, out["id"])

	got, err := subs.ListByStudent(context.Background(), "stu-7")
	require.NoError(t, err)
	require.Len(t, got, 1)

	// descriptors are validated at the boundary
	rec, out = doJSON(t, h, http.MethodPost, "/v1/subscriptions",
		`{"student_id":"stu-7","subscription":{"endpoint":"http://insecure.example.org","keys":{"p256dh":"pk","auth":"ak"}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, out["error"])
}

func TestHandlePublicKey(t *testing.T) {
	h := newTestServer(&fakeSender{}, &fakeSubRepo{}, newFakeLedger()).Router()
	rec, out := doJSON(t, h, http.MethodGet, "/v1/vapid-public-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-public-key", out["key"])
}
