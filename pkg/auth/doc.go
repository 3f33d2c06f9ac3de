// Package auth implements accounts, credentials, tokens and sessions.
//
// # Tokens
//
// TokenIssuer mints HS256 JWT pairs. Access tokens (24h) and refresh tokens
// (7d) are signed with different secrets and carry a type claim, so neither
// verifies as the other:
//
//	issuer, err := auth.NewTokenIssuer(accessSecret, refreshSecret, 24*time.Hour, 7*24*time.Hour)
//	pair, err := issuer.Issue(user.ID)
//	claims, err := issuer.Verify(pair.AccessToken, auth.TokenTypeAccess)
//
// # Sessions
//
// Every login stores a session bound to its token pair. A token only
// authenticates while its session is live; logout, password change and
// password reset revoke sessions. Refreshing rotates the session's tokens
// with a conditional update so a refresh token is accepted once.
//
// # Credentials
//
// Passwords are hashed with bcrypt at BcryptCost. Reset tokens are 256 random
// bits; only their SHA-256 digest is stored, with a one hour expiry.
//
//	result, err := credentials.RequestReset(ctx, email, meta)
//	err = credentials.ConsumeReset(ctx, auth.ResetInput{Token: raw, Password: pw}, meta)
//
// # Service
//
// Service ties the stores together for the HTTP handlers: Register, Login,
// Refresh, Authenticate, Logout and the caller's profile and sessions.
// Every authentication event is appended to the audit log.
package auth
