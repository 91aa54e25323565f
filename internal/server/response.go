package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// maxRequestBody is the maximum allowed request body size (64 KB). Chat
// messages are capped well below this; the margin covers JSON framing.
const maxRequestBody = 64 << 10

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

// errorStatus maps domain errors to HTTP status codes in one place.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, warden.ErrUnauthorized),
		errors.Is(err, warden.ErrSessionExpired),
		errors.Is(err, warden.ErrSessionRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, warden.ErrForbidden), errors.Is(err, warden.ErrContentBlocked):
		return http.StatusForbidden
	case errors.Is(err, warden.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, warden.ErrConflict), errors.Is(err, warden.ErrConversationFull):
		return http.StatusConflict
	case errors.Is(err, warden.ErrRateLimited), errors.Is(err, warden.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, warden.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, warden.ErrBudgetExhausted), errors.Is(err, warden.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, warden.ErrModelUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates a domain error into a JSON error response. Rate-limit
// rejections carry a Retry-After header; server-side failures are logged in
// full and returned sanitized so store and upstream details never leak.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)

	var rle *warden.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		secs := int(rle.RetryAfter / time.Second)
		if rle.RetryAfter%time.Second != 0 {
			secs++
		}
		w.Header()["Retry-After"] = []string{strconv.Itoa(secs)}
	}

	if check := rejectCheck(err); check != "" && s.deps.Metrics != nil {
		s.deps.Metrics.GovernanceRejects.WithLabelValues(check).Inc()
	}

	if status >= http.StatusInternalServerError || errors.Is(err, warden.ErrModelUnavailable) {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("error", err.Error()),
			slog.String("request_id", warden.RequestIDFromContext(r.Context())),
		)
		writeJSON(w, status, errorResponse(http.StatusText(status)))
		return
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

// rejectCheck names the governance component behind a rejection, or "" when
// the error is not a governance outcome.
func rejectCheck(err error) string {
	switch {
	case errors.Is(err, warden.ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, warden.ErrContentBlocked):
		return "content_gate"
	case errors.Is(err, warden.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, warden.ErrBudgetExhausted):
		return "budget"
	case errors.Is(err, warden.ErrConversationFull):
		return "conversation"
	default:
		return ""
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}
