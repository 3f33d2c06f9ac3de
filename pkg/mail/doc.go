// Package mail delivers password reset and email verification messages.
//
// The provider is chosen by GATEKEEPER_MAIL_PROVIDER: "log" writes messages
// to the structured log, "sendgrid" delivers them through SendGrid.
package mail
