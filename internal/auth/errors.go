package auth

import "fmt"

// Code identifies an authentication failure class. Codes are stable API
// surface; handlers map them to HTTP statuses and clients branch on them.
type Code string

const (
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccountDeactivated Code = "ACCOUNT_DEACTIVATED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeOTPExpired         Code = "OTP_EXPIRED"
	CodeOTPMismatch        Code = "OTP_MISMATCH"
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeSessionInvalid     Code = "SESSION_INVALID"
	CodeUsernameTaken      Code = "USERNAME_TAKEN"
	CodeEmailTaken         Code = "EMAIL_TAKEN"
	CodeValidation         Code = "VALIDATION_FAILED"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeTwoFARequired      Code = "TWO_FA_REQUIRED"
)

// Error is the failure type returned by every orchestrator operation when
// the request itself is at fault. Infrastructure failures come back as
// wrapped plain errors instead.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code so callers can compare against the sentinels below
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrInvalidCredentials deliberately covers both "no such user" and
	// "wrong password" so responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = &Error{CodeInvalidCredentials, "invalid username or password"}
	ErrAccountDeactivated = &Error{CodeAccountDeactivated, "account is deactivated"}
	ErrOTPExpired         = &Error{CodeOTPExpired, "verification code expired"}
	ErrOTPMismatch        = &Error{CodeOTPMismatch, "verification code is incorrect"}
	ErrTokenInvalid       = &Error{CodeTokenInvalid, "token is invalid or expired"}
	ErrSessionInvalid     = &Error{CodeSessionInvalid, "session is invalid or expired"}
	ErrUsernameTaken      = &Error{CodeUsernameTaken, "username is already taken"}
	ErrEmailTaken         = &Error{CodeEmailTaken, "email is already registered"}
	ErrUserNotFound       = &Error{CodeUserNotFound, "user not found"}
)

func validationError(format string, args ...interface{}) *Error {
	return &Error{CodeValidation, fmt.Sprintf(format, args...)}
}

// RateLimitError carries the wait hint alongside the limit signal.
type RateLimitError struct {
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %d seconds", CodeRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}
