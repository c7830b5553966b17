package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/talkinghead/internal/botconfig"
	"github.com/MrWong99/talkinghead/internal/health"
	"github.com/MrWong99/talkinghead/internal/observe"
)

// maxBodyBytes caps start request bodies.
const maxBodyBytes = 1 << 20

// Sessions is the part of [Service] the HTTP API needs.
type Sessions interface {
	StartSession(ctx context.Context, cfg botconfig.Config) (Session, error)
	Status(pid int) (Status, error)
}

type startResponse struct {
	RoomURL string `json:"room_url"`
	Token   string `json:"token"`
	BotPID  int    `json:"bot_pid"`
}

type statusResponse struct {
	BotID  int    `json:"bot_id"`
	Status Status `json:"status"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Handler serves the control plane HTTP API.
type Handler struct {
	sessions Sessions
}

// NewHandler creates a [Handler].
func NewHandler(sessions Sessions) *Handler {
	return &Handler{sessions: sessions}
}

// RouterConfig holds the optional collaborators of [NewRouter].
type RouterConfig struct {
	// Metrics records request durations. Nil means observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// ServeMetrics exposes the Prometheus scrape endpoint at /metrics.
	ServeMetrics bool
}

// NewRouter builds the full control plane router around h.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(observe.Middleware(cfg.Metrics, observe.WithQuietRoutes("/healthz", "/readyz", "/metrics")))

	h.Routes(r)
	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Routes registers the API endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/start_bot", h.startBot)
	r.Get("/status/{pid}", h.status)
}

func (h *Handler) startBot(w http.ResponseWriter, r *http.Request) {
	cfg := botconfig.Default()
	if err := botconfig.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := h.sessions.StartSession(r.Context(), cfg)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{RoomURL: sess.RoomURL, Token: sess.Token, BotPID: sess.PID})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(chi.URLParam(r, "pid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "pid must be an integer")
		return
	}
	st, err := h.sessions.Status(pid)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{BotID: pid, Status: st})
}

// writeServiceError maps a service error onto a status code. Configuration
// problems are the caller's fault; every other start failure is a 500 with
// the error's public detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var cpErr *Error
	detail := err.Error()
	if errors.As(err, &cpErr) {
		detail = cpErr.Detail
	}
	switch {
	case errors.Is(err, botconfig.ErrInvalid):
		writeError(w, http.StatusBadRequest, detail)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, detail)
	case errors.Is(err, ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, detail)
	default:
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, detail)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
