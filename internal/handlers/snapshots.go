package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sdko-org/opsedge/internal/devices"
	"github.com/sirupsen/logrus"
)

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing device id")
		return
	}

	payload, hit, err := h.snapshots.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.log.WithFields(logrus.Fields{
			"operation": "get_snapshot",
			"device":    id,
		}).WithError(err).Error("Snapshot unavailable")
		writeError(w, http.StatusBadGateway, "device status unavailable")
		return
	}

	cacheStatus := "MISS"
	if hit {
		cacheStatus = "HIT"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.cache.Clear(r.Context())
	h.log.WithField("operation", "cache_clear").Info("Snapshot cache cleared")
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	removed := h.cache.PurgeExpired(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
