package apierror

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Write renders e as {"error": {...}} with its HTTP status and, for throttling errors, a Retry-After header
func Write(w http.ResponseWriter, e *APIError) {
	status := e.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: e})
}

// RateLimited reports that a client exceeded its request budget
func RateLimited(retryAfter int) *APIError {
	e := New(CodeRateLimited, "Too many requests", "", http.StatusTooManyRequests)
	e.RetryAfter = retryAfter
	return e
}
