package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"molttok/internal/service"
	"molttok/internal/util"
)

const maxBodyBytes = 1 << 20

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta carries paging and retry hints
type Meta struct {
	NextCursor string `json:"next_cursor,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(errMsg, message string) Response {
	return Response{
		Success: false,
		Error:   errMsg,
		Message: message,
	}
}

// responder is embedded by every handler for the shared JSON plumbing.
type responder struct {
	logger *zap.Logger
}

func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError translates a service error into the envelope. Internal
// failures are logged and replaced with a generic message.
func (h responder) respondWithError(w http.ResponseWriter, r *http.Request, err error, message string) {
	statusCode := getStatusCode(err)
	resp := errorResponse(err.Error(), message)
	logger := util.FromContext(r.Context(), h.logger)

	var rl *service.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
		resp.Meta = &Meta{RetryAfter: rl.RetryAfter}
	}

	if statusCode == http.StatusInternalServerError {
		logger.Error("HTTP request failed",
			util.ErrorField(err),
			util.String("path", r.URL.Path),
			util.String("message", message),
		)
		resp.Error = "Internal server error"
	} else {
		logger.Debug("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message),
		)
	}
	h.respondWithJSON(w, statusCode, resp)
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var errBadBody = &service.ValidationError{Field: "body", Message: "Invalid JSON body"}

// decodeJSON reads a JSON body into dst. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadBody
	}
	return nil
}
