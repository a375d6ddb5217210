// Package v1 contains the route handlers of the runtime broker API.
package v1

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/boltlabs/runtimed/pkg/config"
	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/logger"
)

// Request validation limits.
const (
	maxPathBytes  = 4096
	maxIDBytes    = 256
	maxQueryBytes = 512
)

// errorResponse is the envelope every failed request returns.
type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// okResponse is the envelope for mutations with no payload.
type okResponse struct {
	OK bool `json:"ok"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}

// writeError maps any error to the response envelope. Internal errors get
// logged here; expected client errors do not.
func writeError(w http.ResponseWriter, err error) {
	re := rterrors.FromError(err)
	if re.Status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "code", re.Code, "error", re.Error())
	}
	writeJSON(w, re.Status, errorResponse{
		Error:   re.Message,
		Code:    re.Code,
		Details: re.Details,
	})
}

// methodNotAllowed is installed as the chi MethodNotAllowed handler so 405s
// share the JSON envelope.
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, rterrors.NewMethodNotAllowed(r.Method))
}

// requireRemote gates every runtime endpoint on the dokploy provider.
func requireRemote(cfg *config.Config) error {
	if !cfg.RemoteEnabled() {
		return rterrors.NewBadRequest("remote runtime sessions are not enabled", nil)
	}
	return nil
}

// extractToken resolves the runtime token from, in order, the Authorization
// bearer header, the decoded body, and the query string.
func extractToken(r *http.Request, bodyToken string) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if t := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); t != "" && t != auth {
			return t, nil
		}
	}
	if bodyToken != "" {
		return bodyToken, nil
	}
	if t := r.URL.Query().Get("runtimeToken"); t != "" {
		return t, nil
	}
	return "", rterrors.NewMissingToken()
}

// requestID returns the caller-supplied platform request id, if any. The
// platform client validates and regenerates as needed.
func requestID(r *http.Request) string {
	return r.Header.Get("x-request-id")
}

// decodeBody decodes a JSON request body into v. An empty body is allowed
// and leaves v zero-valued.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return rterrors.NewBadRequest("invalid request body", err)
	}
	return nil
}

// fieldTooLong builds the validation error for an oversized field.
func fieldTooLong(name string, limit int) error {
	return rterrors.NewBadRequest("request field too long", nil).
		WithDetails(map[string]any{"field": name, "maxBytes": limit})
}

func validateID(name, value string) error {
	if len(value) > maxIDBytes {
		return fieldTooLong(name, maxIDBytes)
	}
	return nil
}

func validatePath(value string) error {
	if len(value) > maxPathBytes {
		return fieldTooLong("path", maxPathBytes)
	}
	return nil
}
