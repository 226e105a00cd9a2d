// Package api exposes the worker's operational HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/internal/orchestrator"
	"github.com/dealmungchi/snipedeal/internal/scheduler"
	"github.com/dealmungchi/snipedeal/internal/storage"
	"github.com/dealmungchi/snipedeal/logger"
	"github.com/dealmungchi/snipedeal/services/events"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// CampaignLister reads campaign definitions
type CampaignLister interface {
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
}

// CycleTrigger starts cycles on demand
type CycleTrigger interface {
	RunOnce(ctx context.Context, id int64) (orchestrator.CycleResult, error)
	Running(id int64) bool
}

// SeenResetter forgets a campaign's seen listing ids
type SeenResetter interface {
	Reset(ctx context.Context, campaignID int64) error
}

// Handler serves the ops endpoints
type Handler struct {
	campaigns CampaignLister
	trigger   CycleTrigger
	events    events.Sink
	seen      SeenResetter
	log       *logger.Logger
	started   time.Time
}

// HandlerOption customizes a Handler
type HandlerOption func(*Handler)

// WithSeenReset enables DELETE /campaigns/{id}/seen
func WithSeenReset(seen SeenResetter) HandlerOption {
	return func(h *Handler) { h.seen = seen }
}

// NewHandler creates the ops handler
func NewHandler(campaigns CampaignLister, trigger CycleTrigger, sink events.Sink, log *logger.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = logger.ForAPI()
	}
	h := &Handler{
		campaigns: campaigns,
		trigger:   trigger,
		events:    sink,
		log:       log,
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter registers the ops routes
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.healthz)
	r.Get("/events", h.listEvents)
	r.Get("/campaigns", h.listCampaigns)
	r.Post("/campaigns/{id}/run", h.runCampaign)
	if h.seen != nil {
		r.Delete("/campaigns/{id}/seen", h.resetSeen)
	}
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}
	if h.events == nil {
		writeSuccess(w, http.StatusOK, []events.Entry{})
		return
	}
	writeSuccess(w, http.StatusOK, h.events.Recent(limit))
}

type campaignView struct {
	model.Campaign
	IntervalMinutes float64 `json:"interval_minutes"`
	Running         bool    `json:"running"`
}

func (h *Handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.campaigns.ListCampaigns(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Listing campaigns failed")
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not list campaigns")
		return
	}
	views := make([]campaignView, 0, len(campaigns))
	for _, c := range campaigns {
		views = append(views, campaignView{
			Campaign:        c,
			IntervalMinutes: c.Interval.Minutes(),
			Running:         h.trigger != nil && h.trigger.Running(c.ID),
		})
	}
	writeSuccess(w, http.StatusOK, views)
}

func (h *Handler) runCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "campaign id must be a positive integer")
		return
	}

	result, err := h.trigger.RunOnce(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "campaign not found")
	case errors.Is(err, scheduler.ErrCycleInProgress):
		writeError(w, http.StatusConflict, "CYCLE_IN_PROGRESS", "a cycle is already running for this campaign")
	case err != nil:
		h.log.Error().Err(err).Int64("campaign_id", id).Msg("Manual run failed")
		writeError(w, http.StatusInternalServerError, "RUN_FAILED", "could not run campaign")
	default:
		writeSuccess(w, http.StatusAccepted, result)
	}
}

// resetSeen clears a campaign's seen ids so its next cycle treats every
// listing as new again. Stored listings are untouched, so nothing already
// delivered is sent twice.
func (h *Handler) resetSeen(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "campaign id must be a positive integer")
		return
	}

	campaigns, err := h.campaigns.ListCampaigns(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Listing campaigns failed")
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not list campaigns")
		return
	}
	found := false
	for _, c := range campaigns {
		if c.ID == id {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "campaign not found")
		return
	}
	if h.trigger != nil && h.trigger.Running(id) {
		writeError(w, http.StatusConflict, "CYCLE_IN_PROGRESS", "a cycle is already running for this campaign")
		return
	}

	if err := h.seen.Reset(r.Context(), id); err != nil {
		h.log.Error().Err(err).Int64("campaign_id", id).Msg("Seen reset failed")
		writeError(w, http.StatusInternalServerError, "RESET_FAILED", "could not reset seen listings")
		return
	}
	h.log.Info().Int64("campaign_id", id).Msg("Seen listings reset")
	writeSuccess(w, http.StatusOK, map[string]any{"campaign_id": id, "reset": true})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
