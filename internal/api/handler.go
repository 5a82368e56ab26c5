package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/service"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *service.Service
	repo    domain.Repository
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		version: version,
	}
}

// EvaluateResponse is the response for POST /transactions.
type EvaluateResponse struct {
	Transaction *domain.Transaction         `json:"transaction"`
	Risk        *domain.RiskResult          `json:"risk"`
	Session     *domain.VerificationSession `json:"session,omitempty"`
	Metadata    struct {
		TraceID    string `json:"traceId"`
		DurationMs int64  `json:"durationMs"`
		Version    string `json:"version"`
	} `json:"metadata"`
}

// EvaluateTransaction handles POST /transactions requests.
func (h *Handler) EvaluateTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.TransactionRequest
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
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if !domain.ValidChannel(req.Channel) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "channel must be one of mobile, web, api, atm, pos",
		})
		return
	}
	if len(req.Currency) != 3 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "currency must be a 3-letter code",
		})
		return
	}

	// async=true hands the transaction to the worker via the event bus.
	if r.URL.Query().Get("async") == "true" {
		if err := h.svc.EnqueueTransaction(ctx, &req); err != nil {
			slog.Error("failed to enqueue transaction", "user_id", req.UserID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "async ingestion not available",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "queued",
		})
		return
	}

	result, err := h.svc.EvaluateTransaction(ctx, &req)
	if err != nil {
		slog.Error("transaction evaluation failed", "user_id", req.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "transaction evaluation failed",
		})
		return
	}

	resp := EvaluateResponse{
		Transaction: result.Transaction,
		Risk:        result.Risk,
		Session:     result.Session,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.DurationMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.svc.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetRequirements resolves verification requirements for a risk score
// without creating a session.
func (h *Handler) GetRequirements(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("score")
	score, err := strconv.Atoi(raw)
	if err != nil || score < 0 || score > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "score must be an integer between 0 and 100",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.svc.RequiredMethods(score))
}

// GetSession retrieves a verification session by ID.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, ok := h.svc.GetSession(r.Context(), sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GetProgress summarizes completion for a verification session.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	progress, ok := h.svc.Progress(r.Context(), sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, progress)
}

// SubmitStepRequest is the request body for submitting a verification step.
type SubmitStepRequest struct {
	Method  domain.Method   `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitStepResponse pairs the step outcome with the resulting session state.
type SubmitStepResponse struct {
	Outcome *domain.StepOutcome         `json:"outcome"`
	Session *domain.VerificationSession `json:"session"`
}

// SubmitStep handles POST /verification/sessions/{id}/steps.
func (h *Handler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	var req SubmitStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "method is required",
		})
		return
	}

	outcome, session := h.svc.SubmitStep(ctx, sessionID, req.Method, req.Payload)
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, SubmitStepResponse{
		Outcome: outcome,
		Session: session,
	})
}

// CancelSessionRequest is the optional request body for cancelling a session.
type CancelSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelSession handles POST /verification/sessions/{id}/cancel.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	// Body is optional; a reason is accepted for the audit log only.
	var req CancelSessionRequest
	json.NewDecoder(r.Body).Decode(&req)

	if !h.svc.CancelSession(ctx, sessionID) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
		return
	}

	if req.Reason != "" {
		slog.Info("verification session cancelled", "session_id", sessionID, "reason", req.Reason)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": true,
		"sessionId": sessionID,
	})
}

// ListAttempts returns verification audit log entries matching the query.
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	filter := domain.AttemptFilter{
		UserID: r.URL.Query().Get("userId"),
		Method: domain.Method(r.URL.Query().Get("method")),
		Result: domain.StepResult(r.URL.Query().Get("result")),
	}

	attempts, err := h.svc.ListAttempts(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list attempts", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "attempt log not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"attempts": attempts,
		"count":    len(attempts),
	})
}

// ListFactors returns all loaded custom risk factors.
// Factors are loaded from the database at startup and can be reloaded via
// POST /factors/reload.
func (h *Handler) ListFactors(w http.ResponseWriter, r *http.Request) {
	factors := h.svc.ListRiskFactors()

	writeJSON(w, http.StatusOK, map[string]any{
		"factors": factors,
		"count":   len(factors),
	})
}

// CreateFactorRequest is the request body for creating a risk factor.
type CreateFactorRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Points      int    `json:"points"`
	Enabled     bool   `json:"enabled"`
}

// CreateFactor compiles, loads, and persists a custom risk factor.
func (h *Handler) CreateFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateFactorRequest
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
	if req.Points < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "points must not be negative",
		})
		return
	}

	cfg := &domain.RiskFactorConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Points:      req.Points,
		Enabled:     req.Enabled,
	}

	if err := h.svc.SaveRiskFactor(ctx, cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid risk factor: " + err.Error(),
		})
		return
	}

	slog.Info("risk factor created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"factor": cfg,
	})
}

// ReloadFactors reloads all enabled risk factors from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadFactors(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ReloadRiskFactors(r.Context()); err != nil {
		slog.Error("failed to reload risk factors", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload risk factors: " + err.Error(),
		})
		return
	}

	count := len(h.svc.ListRiskFactors())
	slog.Info("risk factors reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "factors reloaded successfully",
		"count":   count,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
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

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
