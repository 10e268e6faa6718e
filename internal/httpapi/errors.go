package httpapi

import (
	"math"
	"net/http"
	"strconv"

	"afiliados.org/internal/auth"
)

// statusFor maps every auth outcome onto an HTTP status.
func statusFor(o auth.Outcome) int {
	switch o {
	case auth.OutcomeOK:
		return http.StatusOK
	case auth.OutcomeInvalidCredentials,
		auth.OutcomeInvalidToken,
		auth.OutcomeExpiredToken,
		auth.OutcomeRevokedToken,
		auth.OutcomeMissingToken:
		return http.StatusUnauthorized
	case auth.OutcomeAccountLocked:
		return http.StatusLocked
	case auth.OutcomeRateLimited:
		return http.StatusTooManyRequests
	case auth.OutcomeInvalidInput:
		return http.StatusBadRequest
	case auth.OutcomeConflict:
		return http.StatusConflict
	case auth.OutcomeForbidden:
		return http.StatusForbidden
	case auth.OutcomeNotFound:
		return http.StatusNotFound
	case auth.OutcomeSystemError:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

var outcomeMessages = map[auth.Outcome]string{
	auth.OutcomeInvalidCredentials: "invalid credentials",
	auth.OutcomeAccountLocked:      "account temporarily locked",
	auth.OutcomeInvalidToken:       "invalid token",
	auth.OutcomeExpiredToken:       "token expired",
	auth.OutcomeRevokedToken:       "token revoked",
	auth.OutcomeMissingToken:       "missing bearer token",
	auth.OutcomeRateLimited:        "too many attempts, try again later",
	auth.OutcomeInvalidInput:       "invalid request",
	auth.OutcomeConflict:           "already exists",
	auth.OutcomeForbidden:          "forbidden",
	auth.OutcomeNotFound:           "resource not found",
	auth.OutcomeSystemError:        "internal error",
}

// writeAuthError renders err by outcome. Only the outcome leaks to the
// client, never the underlying cause.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	o := auth.Classify(err)
	status := statusFor(o)
	payload := map[string]any{
		"error":   o.String(),
		"message": outcomeMessages[o],
	}
	if o == auth.OutcomeAccountLocked {
		if remaining, ok := auth.LockRemaining(err); ok {
			secs := retryAfterSeconds(remaining.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			payload["retry_after_seconds"] = secs
		}
	}
	if o == auth.OutcomeRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	writeErrorPayload(w, r, status, payload)
}

// writeSessionError collapses every token-class failure of the refresh and
// token endpoints into one 401 so callers cannot tell expiry, revocation and
// reuse apart.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch auth.Classify(err) {
	case auth.OutcomeInvalidToken, auth.OutcomeExpiredToken, auth.OutcomeRevokedToken,
		auth.OutcomeMissingToken, auth.OutcomeNotFound:
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "refresh token is not valid")
	default:
		writeAuthError(w, r, err)
	}
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, status int, payload map[string]any) {
	if rid := requestID(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func retryAfterSeconds(secs float64) int {
	n := int(math.Ceil(secs))
	if n < 1 {
		return 1
	}
	return n
}
