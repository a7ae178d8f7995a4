package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"countdown/internal/goerror"
	appLog "countdown/internal/log"
)

// maxBodyBytes bounds request bodies, imports included.
const maxBodyBytes = 10 << 20

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

// writeError maps err to a status through its goerror kind. Anything that
// is not a client error is logged and reported without internal detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *goerror.Error
	if !errors.As(err, &e) {
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	status := e.StatusCode()
	if status >= http.StatusInternalServerError {
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path, "kind", e.Kind().String())
	}

	msg := e.Msg()
	if msg == "" {
		msg = e.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg, Fields: e.Fields()})
}

// decodeJSON reads a JSON body into v. Malformed input is InvalidFormat; a
// field v does not know is a validation error on that field.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return goerror.NewInvalidFormat(errors.New("request body is empty"))
		}
		// encoding/json has no typed error for unknown fields.
		if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			name = strings.Trim(name, `"`)
			return goerror.NewValidation(err, name, "unknown field")
		}
		return goerror.NewInvalidFormat(err)
	}
	return nil
}
