package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/leaderboard"
	"github.com/rewards-ledger/internal/service"
	"github.com/rewards-ledger/internal/websocket"
)

// ActorHeader carries the authenticated caller, set by the gateway in front
// of this service. Ignored once a token secret is configured.
const ActorHeader = "X-User-ID"

// Handler provides HTTP handlers for the rewards API
type Handler struct {
	service     *service.RewardsService
	leaderboard *leaderboard.Aggregator
	hub         *websocket.Hub
	ready       func(ctx context.Context) error
	tokenSecret []byte
	platformKey []byte
	logger      *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.RewardsService, agg *leaderboard.Aggregator, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service:     svc,
		leaderboard: agg,
		hub:         hub,
		logger:      logger,
	}
}

// SetReadinessCheck installs the dependency check behind /ready
func (h *Handler) SetReadinessCheck(check func(ctx context.Context) error) {
	h.ready = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AmountRequest is the body of credit, spend and redeem calls
type AmountRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// ProfileRequest is the body of a profile update
type ProfileRequest struct {
	DisplayName string `json:"display_name"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(h.actorMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/completions", h.SubmitCompletion)

			r.Get("/wallet", h.GetWallet)
			r.With(h.requirePlatform).Post("/wallet/credit", h.Credit)
			r.Post("/wallet/spend", h.Spend)
			r.Post("/wallet/redeem", h.Redeem)

			r.Get("/progression", h.GetProgression)
			r.Post("/checkin", h.CheckIn)
			r.Put("/profile", h.UpdateProfile)

			r.Get("/progress/{activityID}", h.GetProgress)
			r.Post("/progress/{activityID}/unlock-replay", h.UnlockReplay)

			r.Get("/badges", h.GetBadges)
			r.Post("/badges/{badgeID}/collect", h.CollectBadge)
		})

		r.Get("/leaderboards/{period}", h.GetLeaderboard)

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a domain error onto a status. Anything unexpected is
// logged and reported generically.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.writeError(w, http.StatusConflict, domain.ErrInsufficientFunds)
	case errors.Is(err, domain.ErrUnauthorizedActor):
		h.writeError(w, http.StatusForbidden, domain.ErrUnauthorizedActor)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error("request failed",
			"op", op,
			"user_id", chi.URLParam(r, "userID"),
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return false
	}
	return true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if len(h.tokenSecret) > 0 {
		id := actor(r)
		if id == "" {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorizedActor)
			return
		}
		// Only the token identity counts in token mode.
		r.Header.Set(ActorHeader, id)
		q := r.URL.Query()
		q.Del("user_id")
		r.URL.RawQuery = q.Encode()
	}
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := h.hub.Stats()
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": stats.Connections,
		"subscribers":       stats.Channels,
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Error: "not ready"})
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// SubmitCompletion runs a completion report through the rewards pipeline
func (h *Handler) SubmitCompletion(w http.ResponseWriter, r *http.Request) {
	var report domain.CompletionReport
	if !h.decode(w, r, &report) {
		return
	}

	result, err := h.service.ProcessCompletion(r.Context(), actor(r), chi.URLParam(r, "userID"), report)
	if err != nil {
		h.writeServiceError(w, r, "completion", err)
		return
	}
	h.writeSuccess(w, result)
}

// GetWallet returns the balance and recent transactions
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Wallet(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, "wallet", err)
		return
	}
	h.writeSuccess(w, view)
}

// Credit adds coins on behalf of the platform. Only platform callers reach it.
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	balance, err := h.service.Credit(r.Context(), chi.URLParam(r, "userID"), req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, r, "credit", err)
		return
	}
	h.writeSuccess(w, map[string]int64{"balance": balance})
}

// Spend debits coins for a purchase
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	balance, err := h.service.Spend(r.Context(), actor(r), chi.URLParam(r, "userID"), req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, r, "spend", err)
		return
	}
	h.writeSuccess(w, map[string]int64{"balance": balance})
}

// Redeem debits coins for a reward awaiting fulfilment
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	balance, err := h.service.Redeem(r.Context(), actor(r), chi.URLParam(r, "userID"), req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, r, "redeem", err)
		return
	}
	h.writeSuccess(w, map[string]int64{"balance": balance})
}

// GetProgression returns XP, level and streak
func (h *Handler) GetProgression(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Progression(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, "progression", err)
		return
	}
	h.writeSuccess(w, p)
}

// CheckIn records today's visit
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.CheckIn(r.Context(), actor(r), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, "checkin", err)
		return
	}
	h.writeSuccess(w, map[string]int{"streak": p.Streak})
}

// UpdateProfile sets the leaderboard display name
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetDisplayName(r.Context(), actor(r), chi.URLParam(r, "userID"), req.DisplayName); err != nil {
		h.writeServiceError(w, r, "profile", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "updated"})
}

// GetProgress returns one activity's progress record
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Progress(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "activityID"))
	if err != nil {
		h.writeServiceError(w, r, "progress", err)
		return
	}
	h.writeSuccess(w, rec)
}

// UnlockReplay pays for one replay of a completed activity
func (h *Handler) UnlockReplay(w http.ResponseWriter, r *http.Request) {
	rec, balance, err := h.service.UnlockReplay(r.Context(), actor(r), chi.URLParam(r, "userID"), chi.URLParam(r, "activityID"))
	if err != nil {
		h.writeServiceError(w, r, "unlock_replay", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"progress": rec,
		"balance":  balance,
	})
}

// GetBadges lists the user's badges
func (h *Handler) GetBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := h.service.Badges(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, "badges", err)
		return
	}
	if badges == nil {
		badges = []domain.Badge{}
	}
	h.writeSuccess(w, badges)
}

// CollectBadge issues a catalogued badge once its prerequisites are met
func (h *Handler) CollectBadge(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.CollectBadge(r.Context(), actor(r), chi.URLParam(r, "userID"), chi.URLParam(r, "badgeID"))
	if err != nil {
		h.writeServiceError(w, r, "collect_badge", err)
		return
	}
	h.writeSuccess(w, status)
}

// GetLeaderboard returns the current ranking annotated with position changes
// since the last broadcast.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := h.leaderboard.Snapshot(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, "leaderboard", err)
		return
	}
	h.writeSuccess(w, snap)
}
