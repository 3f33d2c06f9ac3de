package mail

import (
	"bytes"
	"html/template"
	"net/url"
	"strings"
)

var resetHTML = template.Must(template.New("reset").Parse(
	`<p>Hello {{.Name}},</p>
<p>A password reset was requested for your account. The link below is valid for one hour and can be used once.</p>
<p><a href="{{.Link}}">Reset your password</a></p>
<p>If you did not request this, you can ignore this email.</p>`))

var verifyHTML = template.Must(template.New("verify").Parse(
	`<p>Hello {{.Name}},</p>
<p>Please confirm your email address to finish setting up your account.</p>
<p><a href="{{.Link}}">Verify your email</a></p>`))

type templateData struct {
	Name string
	Link string
}

// ResetLink builds the frontend password reset link for a raw token
func ResetLink(frontendOrigin, token string) string {
	return strings.TrimRight(frontendOrigin, "/") + "/auth/reset-password?token=" + url.QueryEscape(token)
}

// VerificationLink builds the frontend email verification link for a token
func VerificationLink(frontendOrigin, token string) string {
	return strings.TrimRight(frontendOrigin, "/") + "/auth/verify-email?token=" + url.QueryEscape(token)
}

// PasswordResetMessage renders the password reset email
func PasswordResetMessage(to, name, link string) Message {
	return Message{
		To:      to,
		ToName:  name,
		Subject: "Reset your password",
		Text: "Hello " + name + ",\n\n" +
			"A password reset was requested for your account. Open the link below within one hour to choose a new password:\n\n" +
			link + "\n\nIf you did not request this, you can ignore this email.\n",
		HTML: render(resetHTML, templateData{Name: name, Link: link}),
	}
}

// VerificationMessage renders the email verification email
func VerificationMessage(to, name, link string) Message {
	return Message{
		To:      to,
		ToName:  name,
		Subject: "Verify your email address",
		Text: "Hello " + name + ",\n\n" +
			"Please confirm your email address to finish setting up your account:\n\n" + link + "\n",
		HTML: render(verifyHTML, templateData{Name: name, Link: link}),
	}
}

func render(t *template.Template, data templateData) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}
