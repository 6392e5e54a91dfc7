package handlers

import (
	"github.com/gorilla/mux"
)

func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/healthz", HandleHealth).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/devices/{id}/snapshot", h.GetSnapshot).Methods("GET")
	v1.HandleFunc("/activity", h.PostActivity).Methods("POST")
	v1.HandleFunc("/session", h.StartSession).Methods("POST")
	v1.HandleFunc("/session", h.EndSession).Methods("DELETE")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/cache/stats", h.CacheStats).Methods("GET")
	admin.HandleFunc("/cache/clear", h.ClearCache).Methods("POST")
	admin.HandleFunc("/cache/purge", h.PurgeCache).Methods("POST")
	admin.HandleFunc("/activity/stats", h.ActivityStats).Methods("GET")
	admin.HandleFunc("/activity/flush", h.FlushActivity).Methods("POST")
}
