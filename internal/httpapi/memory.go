package httpapi

import (
	"net/http"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

func (s *Server) listMemory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.memory.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type updateMemoryRequest struct {
	Content string `json:"content"`
}

func (s *Server) updateMemory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req updateMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Content == "" {
		s.writeError(w, coreerr.New(coreerr.Validation, "content is required"))
		return
	}
	entry, err := s.memory.Update(r.Context(), id, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.memory.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
