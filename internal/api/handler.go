package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/engine"
	"github.com/luminex/warden/internal/rules"
	"github.com/luminex/warden/internal/store"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  *engine.Engine
	rules   *rules.Engine
	store   domain.Store
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(eng *engine.Engine, ruleEngine *rules.Engine, st domain.Store, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		engine:  eng,
		rules:   ruleEngine,
		store:   st,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// RecordAction handles POST /v1/actions. Recording never fails: bad input
// aside, the caller always gets an acknowledgement.
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var req domain.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.UserID == "" || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId and type are required",
		})
		return
	}
	if req.IPAddress == "" {
		// RealIP middleware has already unwrapped proxy headers
		req.IPAddress = r.RemoteAddr
	}

	record := h.engine.RecordAction(r.Context(), &req)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"recorded":  true,
		"userId":    record.UserID,
		"timestamp": record.Timestamp,
	})
}

// CheckAction handles POST /v1/actions/check.
func (h *Handler) CheckAction(w http.ResponseWriter, r *http.Request) {
	var req domain.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.UserID == "" || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId and type are required",
		})
		return
	}

	decision := h.engine.CheckAction(r.Context(), &req)
	writeJSON(w, http.StatusOK, decision)
}

// ValidateScore handles POST /v1/scores/validate.
func (h *Handler) ValidateScore(w http.ResponseWriter, r *http.Request) {
	var req engine.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId is required",
		})
		return
	}

	decision := h.engine.ValidateScore(r.Context(), &req)
	writeJSON(w, http.StatusOK, decision)
}

// RegisterDeviceRequest is the request body for POST /v1/devices.
type RegisterDeviceRequest struct {
	Fingerprint string                 `json:"fingerprint"`
	UserID      string                 `json:"userId"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RegisterDevice handles POST /v1/devices.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Fingerprint == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fingerprint and userId are required",
		})
		return
	}

	h.engine.RegisterDevice(r.Context(), req.Fingerprint, req.UserID, req.Metadata)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "registered"})
}

// RegisterIPRequest is the request body for POST /v1/ips.
type RegisterIPRequest struct {
	Address string           `json:"address"`
	UserID  string           `json:"userId"`
	Risk    *domain.RiskInfo `json:"risk,omitempty"`
}

// RegisterIP handles POST /v1/ips.
func (h *Handler) RegisterIP(w http.ResponseWriter, r *http.Request) {
	var req RegisterIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Address == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "address and userId are required",
		})
		return
	}

	h.engine.RegisterIP(r.Context(), req.Address, req.UserID, req.Risk)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "registered"})
}

// GetStats handles GET /v1/users/{id}/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	stats := h.engine.Stats(userID)
	if stats == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no activity recorded for user",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ClearHistory handles DELETE /v1/users/{id}/history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	h.engine.ClearHistory(userID)
	slog.Info("user history cleared", "user_id", domain.NormalizeUserID(userID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ForgiveUser handles POST /v1/users/{id}/forgive. Zeroes the strike
// counter without touching the action history.
func (h *Handler) ForgiveUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	h.engine.ResetSuspiciousCount(userID)
	slog.Info("user forgiven", "user_id", domain.NormalizeUserID(userID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "forgiven"})
}

// ListActivities handles GET /v1/users/{id}/activities, serving the
// persisted audit trail.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "store not available",
		})
		return
	}

	activities, err := h.store.ListSuspiciousActivities(r.Context(), userID, 100)
	if err != nil {
		slog.Error("failed to list suspicious activities", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load activities",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activities": activities,
		"count":      len(activities),
	})
}

// ListRules returns all rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.rules.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.rules.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	if h.store != nil {
		rule, err := h.store.GetCustomRule(r.Context(), ruleID)
		if err == nil {
			writeJSON(w, http.StatusOK, rule)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("failed to get rule", "id", ruleID, "error", err)
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason,omitempty"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule validates, persists, and loads a new custom rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.CustomRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Confidence:  req.Confidence,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Compiling doubles as validation
	if err := h.rules.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if h.store != nil {
		if err := h.store.SaveCustomRule(ctx, rule); err != nil {
			slog.Error("failed to save rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if rule.Enabled {
		if err := h.rules.LoadRule(rule); err != nil {
			slog.Error("failed to load rule", "id", rule.ID, "error", err)
		}
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
	})
}

// ReloadRules hot-reloads the rule set from the store.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "store not available",
		})
		return
	}

	stored, err := h.store.ListCustomRules(ctx)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from store",
		})
		return
	}

	if err := h.engine.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(stored),
	})
}

// Health returns server health status. A failing backing service degrades
// the status without failing the endpoint; decisions run in memory.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
