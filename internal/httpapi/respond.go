package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

// writeJSON encodes v as the response body. An encode failure is
// logged, not propagated — by the time it happens headers are already
// written, so there is nothing left to surface to the client.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

// decodeJSON parses the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return coreerr.Wrap(coreerr.Validation, err, "decode request body")
	}
	return nil
}

// writeError maps a coreerr.Kind to its HTTP status and writes a
// {"error": message} body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch coreerr.KindOf(err) {
	case coreerr.Validation:
		status = http.StatusBadRequest
	case coreerr.NotFound:
		status = http.StatusNotFound
	case coreerr.Upstream:
		status = http.StatusBadGateway
	case coreerr.Storage, coreerr.Internal:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}

	var coreErr *coreerr.Error
	msg := err.Error()
	if errors.As(err, &coreErr) {
		msg = coreErr.Message
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}
