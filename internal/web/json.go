package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// CommandRequest is the body of PUT /api/channels/{id}.
type CommandRequest struct {
	On *bool `json:"on"`
}

// CommandResponse acknowledges a queued write. The relay changes once the
// event loop applies it.
type CommandResponse struct {
	ID       int  `json:"id"`
	On       bool `json:"on"`
	Accepted bool `json:"accepted"`
}

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Error string `json:"error"`
}

func decodeCommand(body io.Reader) (bool, error) {
	var req CommandRequest
	dec := json.NewDecoder(io.LimitReader(body, 1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return false, fmt.Errorf("invalid body: %w", err)
	}
	if req.On == nil {
		return false, errors.New(`body must contain "on"`)
	}
	return *req.On, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorJSON{Error: msg})
}
