package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/ai"
	"github.com/studysync/studysync-go/internal/logging"
	"github.com/studysync/studysync-go/internal/otp"
	"github.com/studysync/studysync-go/internal/service"
)

const maxBodySize = 1 << 20 // 1MB

var validate = validator.New()

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
}

type apiError struct {
	status int
	code   string
	msg    string
}

var (
	errBadBody      = apiError{http.StatusBadRequest, "invalid_request", "invalid request body"}
	errBodyTooLarge = apiError{http.StatusRequestEntityTooLarge, "invalid_request", "request body too large"}
	errInternal     = apiError{http.StatusInternalServerError, "internal", "internal server error"}
	errAIFailed     = apiError{http.StatusBadGateway, "ai_failed", "AI provider request failed"}
)

// known maps service errors to responses. Order matters only for errors
// that wrap one another.
var known = []struct {
	target error
	status int
	code   string
}{
	{service.ErrEmailRequired, http.StatusBadRequest, "invalid_email"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{service.ErrNameRequired, http.StatusBadRequest, "name_required"},
	{service.ErrPasswordTooShort, http.StatusBadRequest, "password_too_short"},
	{service.ErrInvalidPurpose, http.StatusBadRequest, "invalid_type"},
	{service.ErrMessagesRequired, http.StatusBadRequest, "invalid_request"},
	{service.ErrContentRequired, http.StatusBadRequest, "invalid_request"},
	{service.ErrInvalidQuizResult, http.StatusBadRequest, "invalid_request"},
	{service.ErrUserExists, http.StatusConflict, "user_exists"},
	{service.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{otp.ErrChallengeNotFound, http.StatusBadRequest, "otp_not_found"},
	{otp.ErrChallengeExpired, http.StatusBadRequest, "otp_expired"},
	{otp.ErrAttemptsExceeded, http.StatusBadRequest, "otp_attempts_exceeded"},
	{otp.ErrInvalidCode, http.StatusBadRequest, "otp_invalid"},
	{otp.ErrPurposeMismatch, http.StatusBadRequest, "otp_purpose_mismatch"},
	{service.ErrResendTooSoon, http.StatusTooManyRequests, "otp_resend_too_soon"},
	{service.ErrEmailDispatchFailed, http.StatusInternalServerError, "email_dispatch_failed"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
	{service.ErrOAuthProfile, http.StatusBadRequest, "oauth_profile_invalid"},
	{service.ErrOAuthEmailUnverified, http.StatusForbidden, "oauth_email_unverified"},
	{ai.ErrProviderUnauthorized, http.StatusUnauthorized, "ai_unauthorized"},
	{ai.ErrProviderRateLimited, http.StatusTooManyRequests, "ai_rate_limited"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	writeJSON(w, e.status, errorBody{Error: e.msg, Code: e.code})
}

// writeError renders err as a JSON error. Unknown errors become a 500 with
// no details; they are logged with the request logger.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorOr(w, r, err, errInternal)
}

// writeErrorOr is writeError with fallback used for unknown errors.
func writeErrorOr(w http.ResponseWriter, r *http.Request, err error, fallback apiError) {
	body := errorBody{Error: fallback.msg, Code: fallback.code}
	status := fallback.status

	for _, k := range known {
		if errors.Is(err, k.target) {
			status, body.Code, body.Error = k.status, k.code, k.target.Error()
			break
		}
	}

	var invalid *otp.InvalidCodeError
	if errors.As(err, &invalid) {
		remaining := invalid.Remaining
		body.Error = invalid.Error()
		body.RemainingAttempts = &remaining
	}
	var cooldown *service.CooldownError
	if errors.As(err, &cooldown) {
		body.Error = cooldown.Error()
		w.Header().Set("Retry-After", strconv.Itoa(cooldown.RetryAfterSeconds()))
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			zap.String("code", body.Code), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
// It writes the error response itself and reports whether decoding
// succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIError(w, errBodyTooLarge)
			return false
		}
		writeAPIError(w, errBadBody)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeAPIError(w, apiError{http.StatusBadRequest, "invalid_request", fieldMessage(verrs[0])})
			return false
		}
		writeAPIError(w, errBadBody)
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "min":
		return field + " is required"
	case "len":
		return field + " must be " + fe.Param() + " characters"
	case "numeric":
		return field + " must contain only digits"
	case "ltefield":
		return field + " must not exceed " + fe.Param()
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}
