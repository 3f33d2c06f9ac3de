package auth

import "github.com/platinummonkey/gatekeeper/pkg/apperr"

var (
	// ErrLoginFailed covers both unknown email and wrong password
	ErrLoginFailed      = apperr.New(apperr.KindUnauthenticated, "invalid email or password")
	ErrAccountSuspended = apperr.New(apperr.KindForbidden, "account is suspended, contact an administrator")
	ErrAccountInactive  = apperr.New(apperr.KindForbidden, "account is inactive, contact an administrator")
	ErrEmailNotVerified = apperr.New(apperr.KindForbidden, "please verify your email address first")

	ErrInvalidToken    = apperr.New(apperr.KindUnauthenticated, "invalid or expired token")
	ErrSessionNotFound = apperr.New(apperr.KindUnauthenticated, "session expired or not found")
	ErrUserInactive    = apperr.New(apperr.KindUnauthenticated, "user not found or inactive")

	ErrInvalidCredential     = apperr.New(apperr.KindValidation, "current password is incorrect")
	ErrSamePassword          = apperr.New(apperr.KindValidation, "new password must differ from the current one")
	ErrPasswordMismatch      = apperr.New(apperr.KindValidation, "passwords do not match")
	ErrInvalidOrExpiredToken = apperr.New(apperr.KindInvalidToken, "reset link is invalid or expired")
	ErrInvalidVerification   = apperr.New(apperr.KindInvalidToken, "verification link is invalid or expired")

	ErrEmailTaken      = apperr.New(apperr.KindConflict, "email is already in use")
	ErrUsernameTaken   = apperr.New(apperr.KindConflict, "username is already in use")
	ErrAlreadyVerified = apperr.New(apperr.KindConflict, "email is already verified")
	ErrUserHasHistory  = apperr.New(apperr.KindConflict, "user is referenced by audit logs, suspend the account instead")
	ErrSelfDelete      = apperr.New(apperr.KindValidation, "you cannot delete your own account")

	ErrUserNotFound          = apperr.NotFound("user")
	ErrSessionRecordNotFound = apperr.NotFound("session")
)
