package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/cache"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/movement"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/pruner"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// MovementReader is the read-only movement surface the handlers use.
type MovementReader interface {
	GetEvents(ctx context.Context, filters movement.EventFilters) ([]models.MovementEvent, error)
	GetStatesForGame(ctx context.Context, gameID string) ([]models.MovementState, error)
}

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	cache     *cache.Service
	movements MovementReader
	pruner    *pruner.Pruner
	log       *logrus.Entry
}

// NewHandler creates a new handler with dependencies.
func NewHandler(cacheService *cache.Service, movements MovementReader, prune *pruner.Pruner, log *logrus.Entry) *Handler {
	return &Handler{
		cache:     cacheService,
		movements: movements,
		pruner:    prune,
		log:       log,
	}
}

// HealthCheck returns the health status of the service.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "odds-tracker",
	})
}

// GetOdds serves the cached dataset. Stale data is served as-is while a
// background revalidation runs; ?refresh=true waits for a fresh result.
func (h *Handler) GetOdds(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"

	odds, err := h.cache.EnsureCache(r.Context(), force)
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed to load odds", err)
		return
	}

	respondJSON(w, http.StatusOK, odds)
}

// RefreshOdds explicitly triggers a refresh; used by the scheduled job's
// manual counterpart and operator tooling.
func (h *Handler) RefreshOdds(w http.ResponseWriter, r *http.Request) {
	result, err := h.cache.Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "refresh failed", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// TriggerPrune runs one retention prune pass on demand.
func (h *Handler) TriggerPrune(w http.ResponseWriter, r *http.Request) {
	result, err := h.pruner.Prune(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "prune failed", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetMovements retrieves movement events with optional filtering.
// Query params: game_id, book, market, since (RFC3339), limit
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	filters := movement.EventFilters{
		GameID:    r.URL.Query().Get("game_id"),
		BookKey:   r.URL.Query().Get("book"),
		MarketKey: r.URL.Query().Get("market"),
		Limit:     parseIntParam(r, "limit", 200),
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since timestamp", err)
			return
		}
		filters.Since = &since
	}

	events, err := h.movements.GetEvents(ctx, filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retrieve movements", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"movements": events,
		"count":     len(events),
	})
}

// GetOpeningLines retrieves the tracked state (opening and current line)
// for every tuple of one game.
func (h *Handler) GetOpeningLines(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	gameID := chi.URLParam(r, "gameID")
	if gameID == "" {
		respondError(w, http.StatusBadRequest, "game_id is required", nil)
		return
	}

	states, err := h.movements.GetStatesForGame(ctx, gameID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retrieve line states", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"game_id": gameID,
		"lines":   states,
		"count":   len(states),
	})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]interface{}{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	respondJSON(w, status, body)
}

// parseIntParam parses an integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultValue int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return defaultValue
	}
	return parsed
}
