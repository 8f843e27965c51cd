package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/vitalsync/internal/store"
	"github.com/hyperengineering/vitalsync/internal/types"
)

// SyncTrigger requests an immediate sync cycle from the coordinator.
type SyncTrigger interface {
	Trigger()
}

// Validator runs one validation round trip.
type Validator interface {
	Validate(ctx context.Context) (types.ValidationOutcome, error)
}

// Handler implements the API handlers
type Handler struct {
	store     store.Store
	trigger   SyncTrigger
	validator Validator
	apiKey    string
	version   string
}

// NewHandler creates a new Handler with store.Store interface
func NewHandler(s store.Store, trigger SyncTrigger, validator Validator, apiKey, version string) *Handler {
	return &Handler{
		store:     s,
		trigger:   trigger,
		validator: validator,
		apiKey:    apiKey,
		version:   version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.StatusReport(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"version":       h.version,
		"total_clients": report.TotalClients,
		"total_events":  report.TotalEvents,
		"last_check_at": report.LastCheckAt,
	})
}

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.StatusReport(r.Context())
	if err != nil {
		slog.Error("status report failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TriggerSync handles POST /api/v1/sync. The cycle runs in the background;
// listeners observe progress through the status endpoint.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.trigger.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// RunValidation handles POST /api/v1/validate, running one validation round
// trip synchronously.
func (h *Handler) RunValidation(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.validator.Validate(r.Context())
	if err != nil {
		slog.Error("validation round failed", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Validation request failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// CaptureClient handles POST /api/v1/records/clients
func (h *Handler) CaptureClient(w http.ResponseWriter, r *http.Request) {
	payload, doc, ok := h.readPayload(w, r)
	if !ok {
		return
	}

	baseEntityID, _ := doc[types.KeyBaseEntityID].(string)
	if baseEntityID == "" {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Payload is missing baseEntityId")
		return
	}

	if err := h.store.UpsertClient(r.Context(), baseEntityID, payload, types.StatusUnsynced); err != nil {
		slog.Error("capture client failed", "base_entity_id", baseEntityID, "error", err)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"baseEntityId": baseEntityID})
}

// CaptureEvent handles POST /api/v1/records/events. Events captured without
// a formSubmissionId get one assigned; the response echoes it back.
func (h *Handler) CaptureEvent(w http.ResponseWriter, r *http.Request) {
	payload, doc, ok := h.readPayload(w, r)
	if !ok {
		return
	}
	if id, _ := doc[types.KeyBaseEntityID].(string); id == "" {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Payload is missing baseEntityId")
		return
	}

	formSubmissionID, err := h.store.UpsertEvent(r.Context(), payload, types.StatusUnsynced)
	if err != nil {
		slog.Error("capture event failed", "error", err)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"formSubmissionId": formSubmissionID})
}

func (h *Handler) readPayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, map[string]any, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Failed to read request body")
		return nil, nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return nil, nil, false
	}
	return body, doc, true
}

// GetClient handles GET /api/v1/records/clients/{baseEntityID}
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "baseEntityID")
	client, err := h.store.ClientByBaseEntityID(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// GetEvent handles GET /api/v1/records/events/{formSubmissionID}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "formSubmissionID")
	event, err := h.store.EventByFormSubmissionID(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// GetEntityEvents handles GET /api/v1/records/entities/{baseEntityID}/events
func (h *Handler) GetEntityEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "baseEntityID")
	records, err := h.store.EventsByBaseEntityID(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

const defaultChangesLimit = 100

// EventChanges handles GET /api/v1/changes/events. Peers page through local
// writes with the after cursor, which is the row_seq of the last record they
// saw.
func (h *Handler) EventChanges(w http.ResponseWriter, r *http.Request) {
	after, limit, ok := h.cursorParams(w, r)
	if !ok {
		return
	}
	events, err := h.store.EventsAfter(r.Context(), after, limit)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// ClientChanges handles GET /api/v1/changes/clients
func (h *Handler) ClientChanges(w http.ResponseWriter, r *http.Request) {
	after, limit, ok := h.cursorParams(w, r)
	if !ok {
		return
	}
	clients, err := h.store.ClientsAfter(r.Context(), after, limit)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients, "count": len(clients)})
}

func (h *Handler) cursorParams(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	var after int64
	if s := r.URL.Query().Get("after"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			WriteProblem(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return 0, 0, false
		}
		after = v
	}
	limit := defaultChangesLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 1000 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return 0, 0, false
		}
		limit = v
	}
	return after, limit, true
}
