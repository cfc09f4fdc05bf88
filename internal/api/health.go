package api

import "net/http"

// handleHealth is a liveness probe: the process is up and able to answer
// HTTP at all. It does not touch the database or any upstream.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus is a readiness probe: it reports whether the metadata store
// is reachable by attempting a cheap count query, along with the storage
// backend tag.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, err := s.store.CountSets(r.Context(), SearchFilter{})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":          "degraded",
			"error":           err.Error(),
			"storage_backend": s.storage.Backend(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "ready",
		"storage_backend": s.storage.Backend(),
	})
}
