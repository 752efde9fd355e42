package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/brandforge/api/internal/auth"
	"github.com/brandforge/api/internal/plan"
	"github.com/brandforge/api/internal/studio"
)

type Handler struct {
	studio *studio.Service
	plans  plan.Store
	limits map[string]map[string]int64
}

func NewHandler(studioSvc *studio.Service, plans plan.Store, limits map[string]map[string]int64) *Handler {
	return &Handler{studio: studioSvc, plans: plans, limits: limits}
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req studio.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	result, totalUsage, err := h.studio.Generate(ctx, tenantID, &req)
	if err != nil {
		if result == nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "generation unavailable"})
			return
		}
		// Generation succeeded but metering did not; serve the content.
		log.Printf("api: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          uuid.New().String(),
		"content":     result.Content,
		"tokens_used": result.TokensUsed,
		"total_usage": totalUsage,
	})
}

// HandleAnalyze is stub scoring logic; it exists so the analysis route
// category has a real endpoint behind it.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"score":    72,
		"verdict":  "on-brand",
		"length":   len(body.Content),
		"warnings": []string{},
	})
}

func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id": uuid.New().String(),
		"status":   "queued",
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := auth.GetIdentity(ctx)
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ceilings := h.limits[identity.Plan]
	usage := make(map[string]map[string]int64, len(ceilings))
	for metric, ceiling := range ceilings {
		current, err := h.plans.GetUsage(ctx, identity.TenantID, metric)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load usage"})
			return
		}
		usage[metric] = map[string]int64{"current": current, "limit": ceiling}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": identity.TenantID,
		"plan":      identity.Plan,
		"usage":     usage,
	})
}

// Admin handlers. Routes are gated by the admin token middleware in main.

func (h *Handler) HandleSetOverride(w http.ResponseWriter, r *http.Request, tenantID string) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.plans.SetOverride(r.Context(), tenantID, body.Active); err != nil {
		if errors.Is(err, plan.ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to set override"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "override": body.Active})
}

func (h *Handler) HandleResetUsage(w http.ResponseWriter, r *http.Request, tenantID string) {
	var body struct {
		Metric string `json:"metric"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Metric == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "metric is required"})
		return
	}

	if err := h.plans.ResetUsage(r.Context(), tenantID, body.Metric); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reset usage"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "metric": body.Metric, "value": 0})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
