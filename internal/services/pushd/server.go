package pushd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
	"github.com/seiryo-hall/dormpush/internal/domain/subscription"
)

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the JSON trigger surface. Triggering is driven by clients
// polling the time of day, so both triggers are plain POSTs guarded by
// the surrounding application's auth, not by a scheduler here.
type Server struct {
	log     *zap.Logger
	svc     *Service
	subs    subscription.Repo
	pubKey  string
	healthy func(context.Context) error
}

func NewServer(log *zap.Logger, svc *Service, subs subscription.Repo, pubKey string, healthy func(context.Context) error) *Server {
	return &Server{
		log:     log.With(zap.String("component", "pushd.http")),
		svc:     svc,
		subs:    subs,
		pubKey:  pubKey,
		healthy: healthy,
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/broadcasts", s.handleBroadcast).Methods(http.MethodPost)
	r.HandleFunc("/v1/summons", s.handleSummon).Methods(http.MethodPost)
	r.HandleFunc("/v1/subscriptions", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/v1/vapid-public-key", s.handlePublicKey).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return otelhttp.NewHandler(r, "pushd.http")
}

func (s *Server) BuildHTTPServer(cfg ServerConfig) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

type broadcastRequest struct {
	Date string `json:"date"`
	Type string `json:"type"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	typ, err := dispatch.ParseEventType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.svc.Broadcast(r.Context(), date, typ)
	if err != nil {
		if errors.Is(err, ErrInvalidType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("broadcast failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	if res.AlreadySent {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "Already sent",
			"date":        req.Date,
			"type":        req.Type,
			"sent_count":  res.Sent,
			"recorded_at": res.RecordedAt,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"sent":    res.Sent,
		"total":   res.Total,
	})
}

type summonRequest struct {
	StudentID   string `json:"student_id"`
	TeacherName string `json:"teacher_name"`
}

func (s *Server) handleSummon(w http.ResponseWriter, r *http.Request) {
	var req summonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StudentID == "" || req.TeacherName == "" {
		writeError(w, http.StatusBadRequest, "student_id and teacher_name are required")
		return
	}

	count, err := s.svc.Summon(r.Context(), req.StudentID, req.TeacherName)
	if err != nil {
		if errors.Is(err, ErrNoSubscription) {
			writeJSON(w, http.StatusOK, map[string]any{
				"message": "no_subscription",
				"status":  "no_subscription",
			})
			return
		}
		s.log.Error("summon failed", zap.String("student_id", req.StudentID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   count,
	})
}

type registerRequest struct {
	StudentID    string `json:"student_id"`
	Subscription struct {
		Endpoint string            `json:"endpoint"`
		Keys     subscription.Keys `json:"keys"`
	} `json:"subscription"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	sub := &subscription.Subscription{
		StudentID: req.StudentID,
		Endpoint:  req.Subscription.Endpoint,
		Keys:      req.Subscription.Keys,
	}
	if err := sub.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.subs.Create(r.Context(), sub); err != nil {
		s.log.Error("subscription create failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      sub.ID,
	})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"key": s.pubKey})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := s.healthy(ctx); err != nil {
		http.Error(w, "unhealthy: db", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
