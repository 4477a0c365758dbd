package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/rules"
)

// ListPolicies returns the tenant's stored policies and how many are loaded.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	policies, err := h.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	if policies == nil {
		policies = []*domain.Policy{}
	}

	loaded := 0
	if h.engine != nil {
		loaded = h.engine.PoliciesCount(tenantID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policies": policies,
		"count":    len(policies),
		"loaded":   loaded,
	})
}

// PolicyRequest is the request body for creating or replacing a policy.
type PolicyRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name" validate:"required"`
	Description string              `json:"description,omitempty"`
	Expression  string              `json:"expression" validate:"required"`
	Action      domain.PolicyAction `json:"action" validate:"required,oneof=PAUSE LEGAL PLAN MESSAGE OVERRIDE_CHANNEL"`
	Channel     domain.Channel      `json:"channel,omitempty" validate:"required_if=Action OVERRIDE_CHANNEL"`
	Priority    int                 `json:"priority"`
	Enabled     bool                `json:"enabled"`
}

// SavePolicy compiles, stores and loads a policy. Disabled policies are
// stored but unloaded.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	var req PolicyRequest
	if !h.bind(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	p := &domain.Policy{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Action:      req.Action,
		Channel:     req.Channel,
		Priority:    req.Priority,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidatePolicy(p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid policy: " + err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicy(ctx, tenantID, p); err != nil {
		writeError(w, err)
		return
	}

	if p.Enabled {
		if err := h.engine.LoadPolicy(p); err != nil {
			writeError(w, err)
			return
		}
	} else {
		h.engine.UnloadPolicy(tenantID, p.ID)
	}

	slog.Info("policy saved", "tenant_id", tenantID, "id", p.ID, "action", p.Action, "enabled", p.Enabled)
	writeJSON(w, http.StatusCreated, p)
}

// DeletePolicy removes a policy from storage and the engine.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if err := h.repo.DeletePolicy(ctx, tenantID, id); err != nil {
		writeError(w, err)
		return
	}
	if h.engine != nil {
		h.engine.UnloadPolicy(tenantID, id)
	}

	slog.Info("policy deleted", "tenant_id", tenantID, "id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "policy deleted",
	})
}

// ReloadPolicies reloads the tenant's policies from storage into the engine.
// With ?builtin=true the starter policies are stored first, disabled, unless
// a policy with the same id already exists.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	installed := 0
	if r.URL.Query().Get("builtin") == "true" {
		for _, p := range rules.BuiltinPolicies(tenantID) {
			_, err := h.repo.GetPolicy(ctx, tenantID, p.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				writeError(w, err)
				return
			}
			if err := h.repo.SavePolicy(ctx, tenantID, p); err != nil {
				writeError(w, err)
				return
			}
			installed++
		}
	}

	policies, err := h.repo.ListPolicies(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.engine.ReloadPolicies(tenantID, policies); err != nil {
		slog.Error("failed to reload policies", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded", "tenant_id", tenantID, "count", len(policies), "installed", installed)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "policies reloaded successfully",
		"count":     len(policies),
		"loaded":    h.engine.PoliciesCount(tenantID),
		"installed": installed,
	})
}
