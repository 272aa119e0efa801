// Package server exposes a read-only HTTP view over clocked entities.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/export"
	"github.com/rpattn/tickstore/internal/middleware"
	"github.com/rpattn/tickstore/internal/repository"
	"github.com/rpattn/tickstore/internal/temporal"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	engine *temporal.Engine
}

// TimelineEntry is the JSON shape of one tick.
type TimelineEntry struct {
	Tick           int64            `json:"tick"`
	Timestamp      time.Time        `json:"timestamp"`
	ActivityID     *uuid.UUID       `json:"activity_id,omitempty"`
	Activity       any              `json:"activity,omitempty"`
	ActivityRecord *domain.Activity `json:"activity_record,omitempty"`
	Changed        map[string]any   `json:"changed_fields"`
}

type timelineResponse struct {
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Entries    []TimelineEntry `json:"entries"`
}

type valueResponse struct {
	Field   string `json:"field"`
	AsOf    string `json:"as_of"`
	Present bool   `json:"present"`
	Value   any    `json:"value"`
}

// NewRouter wires the entity routes, the metrics endpoint and the request
// middleware.
func NewRouter(engine *temporal.Engine, activities repository.ActivityRepository, allowedOrigins []string) http.Handler {
	h := &Handler{engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /entities/{type}/{id}/timeline", h.handleTimeline)
	mux.HandleFunc("GET /entities/{type}/{id}/timeline.xlsx", h.handleTimelineXLSX)
	mux.HandleFunc("GET /entities/{type}/{id}/value", h.handleValue)
	mux.Handle("GET /metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	return corsHandler.Handler(middleware.LoggingMiddleware(
		middleware.DataLoaderMiddleware(activities)(mux),
	))
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	entityType, id, ok := h.entityFromPath(w, r)
	if !ok {
		return
	}

	timeline, err := h.engine.Timeline(r.Context(), entityType, id)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]TimelineEntry, len(timeline))
	var activityIDs []uuid.UUID
	for i, entry := range timeline {
		entries[i] = TimelineEntry{
			Tick:      entry.Clock.Tick,
			Timestamp: entry.Clock.Timestamp,
			Activity:  entry.Clock.Activity,
			Changed:   entry.Changed,
		}
		if entry.Clock.ActivityID.Valid {
			activityID := entry.Clock.ActivityID.UUID
			entries[i].ActivityID = &activityID
			activityIDs = append(activityIDs, activityID)
		}
	}

	if loader := middleware.ActivityLoaderFromContext(r.Context()); loader != nil && len(activityIDs) > 0 {
		resolved, err := loader.LoadMany(r.Context(), activityIDs)
		if err != nil {
			writeError(w, fmt.Errorf("load activities: %w", err))
			return
		}
		for i := range entries {
			if entries[i].ActivityID != nil {
				entries[i].ActivityRecord = resolved[*entries[i].ActivityID]
			}
		}
	}

	writeJSON(w, http.StatusOK, timelineResponse{EntityType: entityType, EntityID: id, Entries: entries})
}

func (h *Handler) handleTimelineXLSX(w http.ResponseWriter, r *http.Request) {
	entityType, id, ok := h.entityFromPath(w, r)
	if !ok {
		return
	}
	registered, err := h.engine.Registry().Lookup(entityType)
	if err != nil {
		writeError(w, err)
		return
	}
	timeline, err := h.engine.Timeline(r.Context(), entityType, id)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteTimelineXLSX(&buf, export.TimelineSheet{
		EntityType: entityType,
		EntityID:   id,
		Fields:     registered.Tables.Tracked,
		Timeline:   timeline,
	}); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(entityType, id)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleValue(w http.ResponseWriter, r *http.Request) {
	entityType, id, ok := h.entityFromPath(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	field := query.Get("field")
	if field == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "field is required"})
		return
	}

	asOf, err := parseAsOf(query.Get("tick"), query.Get("at"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	value, present, err := h.engine.ValueAsOf(r.Context(), entityType, id, field, asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Field: field, AsOf: asOf.String(), Present: present, Value: value})
}

func (h *Handler) entityFromPath(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	entityType := r.PathValue("type")
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entity id"})
		return "", uuid.Nil, false
	}
	if _, err := h.engine.Registry().Lookup(entityType); err != nil {
		writeError(w, err)
		return "", uuid.Nil, false
	}
	return entityType, id, true
}

func parseAsOf(tick, at string) (temporal.AsOf, error) {
	switch {
	case tick != "" && at != "":
		return temporal.AsOf{}, errors.New("use either tick or at, not both")
	case tick != "":
		n, err := strconv.ParseInt(tick, 10, 64)
		if err != nil {
			return temporal.AsOf{}, fmt.Errorf("invalid tick %q", tick)
		}
		return temporal.AtTick(n), nil
	case at != "":
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return temporal.AsOf{}, fmt.Errorf("invalid time %q: expected RFC3339", at)
		}
		return temporal.AtTime(ts), nil
	default:
		return temporal.AsOf{}, errors.New("tick or at is required")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
