package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

const defaultThreadListLimit = 50

func parseIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, coreerr.New(coreerr.Validation, "invalid id %q", raw)
	}
	return id, nil
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.threads.List(r.Context(), defaultThreadListLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, threads)
}

type threadWithMessages struct {
	Thread   any `json:"thread"`
	Messages any `json:"messages"`
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	thread, err := s.threads.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	messages, err := s.threads.Messages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, threadWithMessages{Thread: thread, Messages: messages})
}

type updateThreadRequest struct {
	Title string `json:"title"`
}

func (s *Server) updateThread(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req updateThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Title == "" {
		s.writeError(w, coreerr.New(coreerr.Validation, "title is required"))
		return
	}
	if err := s.threads.SetTitle(r.Context(), id, req.Title); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.threads.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
