package model

import "time"

// -------------------- USER --------------------

type User struct {
	UserID        string     `json:"user_id" db:"user_id"`         // UUID
	Username      string     `json:"username" db:"username"`       // unique, case-insensitive
	UsernameLower string     `json:"-" db:"username_lower"`        // lookup key
	PasswordHash  string     `json:"-" db:"password_hash"`         // bcrypt
	IsActive      bool       `json:"is_active" db:"is_active"`     // soft delete flag
	Is2FAEnabled  bool       `json:"is_2fa_enabled" db:"is_2fa_enabled"`
	TwoFASecret   string     `json:"-" db:"two_fa_secret"`         // optional second-factor secret
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastLogin     *time.Time `json:"last_login" db:"last_login"`
}

// UserUpdate enumerates the mutable fields of a User. Nil means "leave as is".
// Unknown fields are impossible by construction.
type UserUpdate struct {
	PasswordHash *string
	IsActive     *bool
	Is2FAEnabled *bool
	TwoFASecret  *string
	LastLogin    *time.Time
}

// -------------------- PROFILE --------------------

// Profile is the zero-or-one personal profile owned by a User. The identity
// subsystem only needs the email for login-by-email and password reset.
type Profile struct {
	UserID     string `json:"user_id" db:"user_id"`
	Email      string `json:"email" db:"email"` // unique, case-insensitive
	EmailLower string `json:"-" db:"email_lower"`
	FirstName  string `json:"first_name" db:"first_name"`
	LastName   string `json:"last_name" db:"last_name"`
	Age        int    `json:"age" db:"age"`
	Gender     string `json:"gender" db:"gender"`
}

// -------------------- ONE-TIME CODE --------------------

// Purposes a one-time code can be issued for.
const (
	OTPPurposeResetPassword = "RESET_PASSWORD"
	OTPPurposeTwoFALogin    = "TWO_FA_LOGIN"
	OTPPurposeTwoFASetup    = "TWO_FA_SETUP"
)

// OneTimeCode stores only the hash of a short numeric code. Old codes are
// kept after supersession for the audit trail; verification only ever
// consults the newest unused code of a purpose.
type OneTimeCode struct {
	CodeID    string    `json:"code_id" db:"code_id"` // UUID
	UserID    string    `json:"user_id" db:"user_id"`
	Purpose   string    `json:"purpose" db:"purpose"`
	CodeHash  string    `json:"-" db:"code_hash"` // argon2id
	CodeSalt  string    `json:"-" db:"code_salt"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	IsUsed    bool      `json:"is_used" db:"is_used"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// -------------------- LOGIN ATTEMPT --------------------

// LoginAttempt is an append-only authentication record. Never mutated.
type LoginAttempt struct {
	AttemptID     string    `json:"attempt_id" db:"attempt_id"` // UUID
	Identifier    string    `json:"identifier" db:"identifier"` // username or email as supplied
	Success       bool      `json:"success" db:"success"`
	FailureReason string    `json:"failure_reason,omitempty" db:"failure_reason"` // empty on success
	IPAddress     string    `json:"ip_address" db:"ip_address"`
	UserAgent     string    `json:"user_agent" db:"user_agent"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Failure reasons recorded on LoginAttempt rows.
const (
	FailureInvalidCredentials = "invalid_credentials"
	FailureAccountDeactivated = "account_deactivated"
	FailureOTPMismatch        = "otp_mismatch"
	FailureOTPExpired         = "otp_expired"
)

// -------------------- SESSION --------------------

// Session is one authenticated client context. Rows are deactivated, never
// deleted, so the login history stays reconstructable.
type Session struct {
	SessionID    string     `json:"session_id" db:"session_id"` // unguessable
	UserID       string     `json:"user_id" db:"user_id"`
	Username     string     `json:"username" db:"username"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastAccessed time.Time  `json:"last_accessed" db:"last_accessed"`
	LoggedOutAt  *time.Time `json:"logged_out_at,omitempty" db:"logged_out_at"`
}

// -------------------- AUDIT --------------------

// Audit action vocabulary. Every orchestrator state transition appends
// exactly one entry with one of these tags.
const (
	ActionRegister          = "REGISTER"
	ActionLogin             = "LOGIN"
	ActionLogin2FAInitiated = "LOGIN_2FA_INITIATED"
	ActionLogout            = "LOGOUT"
	ActionPasswordReset     = "PASSWORD_RESET"
	ActionSessionCleanup    = "SESSION_CLEANUP"
	ActionTwoFAEnabled      = "2FA_ENABLED"
	ActionTwoFADisabled     = "2FA_DISABLED"
	ActionPasswordChanged   = "PASSWORD_CHANGED"
	ActionUserDeactivated   = "USER_DEACTIVATED"
)

// AuditEntry is an append-only security event record. UserID is empty for
// maintenance entries. Details is redacted before the entry is stored.
type AuditEntry struct {
	EntryID   string            `json:"entry_id" db:"entry_id"` // UUID
	UserID    string            `json:"user_id,omitempty" db:"user_id"`
	Action    string            `json:"action" db:"action"`
	IPAddress string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string            `json:"user_agent,omitempty" db:"user_agent"` // truncated at 255
	Details   map[string]string `json:"details,omitempty" db:"details"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
