package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

const invalidTokenMessage = "Invalid authentication token"

// Sentinels are never mutated. Use DeriveError to attach a cause, a
// different public message or metadata.
var (
	ErrMissingCredential   = errors.New("Authentication token is missing", errors.CategoryAuth).WithTextCode("MISSING_TOKEN")
	ErrMalformedCredential = errors.New("Malformed authentication token", errors.CategoryAuth).WithTextCode("MALFORMED_TOKEN")
	ErrExpiredCredential   = errors.New("Token has expired", errors.CategoryAuth).WithTextCode("TOKEN_EXPIRED")
	ErrInvalidSignature    = errors.New(invalidTokenMessage, errors.CategoryAuth).WithTextCode("INVALID_SIGNATURE")
	ErrInvalidClaims       = errors.New(invalidTokenMessage, errors.CategoryAuth).WithTextCode("INVALID_CLAIMS")
	ErrInvalidIssuer       = errors.New(invalidTokenMessage, errors.CategoryAuth).WithTextCode("INVALID_ISSUER")
	ErrInvalidAudience     = errors.New(invalidTokenMessage, errors.CategoryAuth).WithTextCode("INVALID_AUDIENCE")
	ErrWrongTokenKind      = errors.New(invalidTokenMessage, errors.CategoryAuth).WithTextCode("WRONG_TOKEN_KIND")
	ErrPrincipalNotFound   = errors.New(invalidTokenMessage, errors.CategoryAuth).WithTextCode("PRINCIPAL_NOT_FOUND")
	ErrInvalidLogin        = errors.New("Invalid email or password", errors.CategoryAuth).WithTextCode("INVALID_LOGIN")
	ErrForbidden           = errors.New("Access forbidden", errors.CategoryAuthz).WithTextCode("FORBIDDEN")
	ErrStoreUnavailable    = errors.New("Service temporarily unavailable", errors.CategoryExternal).WithTextCode("STORE_UNAVAILABLE")
	ErrValidation          = errors.New("Invalid request", errors.CategoryValidation).WithTextCode("VALIDATION")
	ErrEmailTaken          = errors.New("Email already exists", errors.CategoryValidation).WithTextCode("EMAIL_TAKEN")
	ErrRateLimited         = errors.New("Too many requests. Please try again later.", errors.CategoryRateLimit).WithTextCode("RATE_LIMITED")
	ErrInternal            = errors.New("Internal server error", errors.CategoryInternal).WithTextCode("INTERNAL")
)

// DeriveError returns a copy of base with an optional public message and
// cause. The copy matches base under errors.Is and the cause stays
// reachable through errors.Is and errors.As.
func DeriveError(base *errors.Error, message string, cause error) *errors.Error {
	var source error = base
	if cause != nil {
		source = errors.Join(base, cause)
	}

	err := base.Clone()
	err.Source = source
	err.Timestamp = time.Now()
	if message != "" {
		err.Message = message
	}
	return err
}

// WrapError is DeriveError keeping the public message of base
func WrapError(base *errors.Error, cause error) *errors.Error {
	return DeriveError(base, "", cause)
}

// StatusForCategory maps an error category to an HTTP status code
func StatusForCategory(category errors.Category) int {
	switch category {
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryExternal:
		return http.StatusServiceUnavailable
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode is the HTTP status for err. An explicit code wins over the
// category mapping.
func StatusCode(err error) int {
	richErr := AsError(err)
	if richErr == nil {
		return http.StatusOK
	}
	if richErr.Code != 0 {
		return richErr.Code
	}
	return StatusForCategory(richErr.Category)
}

// AsError returns err as *errors.Error. Errors outside the taxonomy become
// ErrInternal wrapping the original.
func AsError(err error) *errors.Error {
	if err == nil {
		return nil
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}
	return WrapError(ErrInternal, err)
}

// CodeOf returns the text code of err, INTERNAL for foreign errors
func CodeOf(err error) string {
	if richErr := AsError(err); richErr != nil && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return ErrInternal.TextCode
}

// outcomeOf is the metrics and activity label for err
func outcomeOf(err error) string {
	return strings.ToLower(CodeOf(err))
}

// IsTokenExpiredError reports whether err is an expired credential
func IsTokenExpiredError(err error) bool {
	return errors.Is(err, ErrExpiredCredential)
}

// IsAuthenticationError reports whether err maps to a 401 response
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	return StatusCode(err) == http.StatusUnauthorized
}
