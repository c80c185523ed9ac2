package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
	// defaultZonePriority is the starting priority of a zone created without one.
	defaultZonePriority = 100
	storeTimeout        = 3 * time.Second
)

// ZoneHandler exposes the zone registry and attempt history.
type ZoneHandler struct {
	zones    prospect.ZoneStore
	attempts prospect.AttemptStore
	timeout  time.Duration
	logger   *zap.Logger
}

// NewZoneHandler wires the stores and logger. Either store may be nil.
func NewZoneHandler(zones prospect.ZoneStore, attempts prospect.AttemptStore, logger *zap.Logger) *ZoneHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZoneHandler{
		zones:    zones,
		attempts: attempts,
		timeout:  storeTimeout,
		logger:   logger,
	}
}

// ListZones handles GET /v1/zones?locked=true|false. It returns {"zones": [...]}.
func (h *ZoneHandler) ListZones(w http.ResponseWriter, r *http.Request) {
	if h.zones == nil {
		writeError(w, http.StatusServiceUnavailable, "zone store unavailable")
		return
	}
	var locked *bool
	if raw := strings.TrimSpace(r.URL.Query().Get("locked")); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid locked filter")
			return
		}
		locked = &val
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	zones, err := h.zones.List(ctx)
	if err != nil {
		h.logger.Error("list zones failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list zones")
		return
	}
	out := make([]prospect.Zone, 0, len(zones))
	for _, z := range zones {
		if locked != nil && z.IsLocked != *locked {
			continue
		}
		out = append(out, z)
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": out})
}

// GetZone handles GET /v1/zones/{zone_id}. 404 when the zone does not exist.
func (h *ZoneHandler) GetZone(w http.ResponseWriter, r *http.Request) {
	if h.zones == nil {
		writeError(w, http.StatusServiceUnavailable, "zone store unavailable")
		return
	}
	id, err := parseZoneID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	zone, err := h.zones.Get(ctx, id)
	if err != nil {
		if errors.Is(err, prospect.ErrNotFound) {
			writeError(w, http.StatusNotFound, "zone not found")
			return
		}
		h.logger.Error("get zone failed", zap.Int64("zone_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load zone")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zone": zone})
}

type createZoneRequest struct {
	Source        string `json:"source"`
	Category      string `json:"category"`
	LocationName  string `json:"location_name"`
	PriorityScore *int   `json:"priority_score"`
}

// CreateZone handles POST /v1/zones. Creating an existing identity returns
// the stored zone unchanged.
func (h *ZoneHandler) CreateZone(w http.ResponseWriter, r *http.Request) {
	if h.zones == nil {
		writeError(w, http.StatusServiceUnavailable, "zone store unavailable")
		return
	}
	var req createZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	zone := prospect.Zone{
		Source:        strings.TrimSpace(req.Source),
		Category:      strings.TrimSpace(req.Category),
		LocationName:  strings.TrimSpace(req.LocationName),
		PriorityScore: defaultZonePriority,
	}
	if zone.Source == "" || zone.Category == "" || zone.LocationName == "" {
		writeError(w, http.StatusBadRequest, "source, category and location_name are required")
		return
	}
	if req.PriorityScore != nil {
		if *req.PriorityScore < 0 {
			writeError(w, http.StatusBadRequest, "priority_score must not be negative")
			return
		}
		zone.PriorityScore = *req.PriorityScore
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	created, err := h.zones.Create(ctx, zone)
	if err != nil {
		h.logger.Error("create zone failed", zap.Stringer("zone", zone), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create zone")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"zone": created})
}

// ListAttempts handles GET /v1/attempts and GET /v1/zones/{zone_id}/attempts,
// newest first, with ?limit= capped at maxAttemptLimit.
func (h *ZoneHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeError(w, http.StatusServiceUnavailable, "attempt store unavailable")
		return
	}
	var zoneID int64
	if chi.URLParam(r, "zone_id") != "" {
		id, err := parseZoneID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zoneID = id
	}
	limit, err := parseLimit(r, defaultAttemptLimit, maxAttemptLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	logs, err := h.attempts.ListAttempts(ctx, zoneID, limit)
	if err != nil {
		h.logger.Error("list attempts failed", zap.Int64("zone_id", zoneID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if logs == nil {
		logs = []prospect.ScrapeAttemptLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": logs})
}

func parseZoneID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "zone_id")
	if raw == "" {
		return 0, errors.New("zone_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid zone_id")
	}
	return id, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
