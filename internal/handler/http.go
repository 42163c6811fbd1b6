package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/service"
	"github.com/points-leaderboard/internal/websocket"
)

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service    *service.LeaderboardService
	hub        *websocket.Hub
	limiter    *RateLimiter
	metrics    http.Handler
	corsOrigin string
	logger     *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.LeaderboardService, hub *websocket.Hub, cfg *config.ServerConfig, logger *slog.Logger) *Handler {
	return &Handler{
		service:    svc,
		hub:        hub,
		corsOrigin: cfg.CORSOrigin,
		logger:     logger,
	}
}

// SetRateLimiter limits the claim route
func (h *Handler) SetRateLimiter(l *RateLimiter) {
	h.limiter = l
}

// SetMetricsHandler exposes collectors at /metrics
func (h *Handler) SetMetricsHandler(m http.Handler) {
	h.metrics = m
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(h.corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/api/ws/stats", h.GetWebSocketStats)
	}

	r.Route("/api/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		r.Post("/", h.CreateUser)
		r.With(h.limiter.Middleware).Post("/claim", h.Claim)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/history", h.GetHistory)
		r.Get("/history/{userID}", h.GetUserHistory)
	})

	return r
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error JSON response
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and hidden behind a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case domain.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, rootSentinel(err))
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, domain.ErrUserNotFound)
	case errors.Is(err, domain.ErrDuplicateName):
		writeError(w, http.StatusConflict, domain.ErrDuplicateName)
	case errors.Is(err, domain.ErrAuditWriteFailed):
		h.logger.Error(op+" failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, domain.ErrAuditWriteFailed)
	default:
		h.logger.Error(op+" failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// rootSentinel returns the validation sentinel wrapped by err
func rootSentinel(err error) error {
	for _, s := range []error{domain.ErrInvalidUserID, domain.ErrInvalidName, domain.ErrInvalidPoints} {
		if errors.Is(err, s) {
			return s
		}
	}
	return domain.ErrInvalidRequest
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"totalConnections":       h.hub.GetTotalConnections(),
		"leaderboardSubscribers": h.hub.GetSubscriberCount(websocket.TopicLeaderboard),
		"historySubscribers":     h.hub.GetSubscriberCount(websocket.TopicHistory),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the store is reachable
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListUsers returns all users, newest first
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateUser handles user creation
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	user, err := h.service.CreateUser(r.Context(), req.Name)
	if err != nil {
		h.writeServiceError(w, r, "create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Claim awards random points to a user
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req domain.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidUserID)
		return
	}

	result, err := h.service.Claim(r.Context(), req.UserID)
	if err != nil {
		h.writeServiceError(w, r, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetLeaderboard returns every user ranked
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetHistory returns one page of the global claim feed
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	h.writeHistory(w, r, "")
}

// GetUserHistory returns one page of a user's claim feed
func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidUserID)
		return
	}
	h.writeHistory(w, r, userID)
}

func (h *Handler) writeHistory(w http.ResponseWriter, r *http.Request, userID string) {
	page := queryInt(r, "page")
	limit := queryInt(r, "limit")

	result, err := h.service.History(r.Context(), userID, page, limit)
	if err != nil {
		h.writeServiceError(w, r, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses a query parameter; missing or malformed values yield 0
func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
