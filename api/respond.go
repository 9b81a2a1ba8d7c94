// Package api exposes the lifecycle operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"launchpad/types"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Code    types.ErrorCode `json:"code"`
}

// messageResponse acknowledges a mutation.
type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps err's code to an HTTP status.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := types.CodeOf(err)
	msg := err.Error()
	var te *types.Error
	if errors.As(err, &te) {
		msg = te.Message()
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "code", code, "error", err)
	}
	writeJSON(w, logger, status, errorResponse{Success: false, Error: msg, Code: code})
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeAlreadyExists, types.CodeAlreadyRunning:
		return http.StatusConflict
	case types.CodeInvalidInput, types.CodeManifest:
		return http.StatusBadRequest
	case types.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return types.Errorf(types.CodeInvalidInput, "decode request", "", "request body is empty")
		}
		return types.NewError(types.CodeInvalidInput, "decode request", "", fmt.Errorf("invalid request payload: %w", err))
	}
	return nil
}
