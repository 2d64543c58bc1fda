package server

import (
	"encoding/json"
	"net/http"

	"github.com/crucible-sec/crucible/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.IsNotFound(err) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleTools lists the registry grouped by container.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	byContainer, err := s.router.ListByContainer()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, byContainer)
}

// handleContainers reports live availability of the configured execution
// targets.
func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.Availability(r.Context()))
}

// handleOperationPipeline returns one operation's pipeline phase document.
func (s *Server) handleOperationPipeline(w http.ResponseWriter, r *http.Request) {
	op, err := s.ops.GetOperation(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op.Pipeline)
}
