package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"time"
)

const (
	resetEmailTemplate = "reset_password_email.html"
	resetFormTemplate  = "reset_password_form.html"

	ResetPasswordSubject = "Password Reset Request"
	ResetPasswordPath    = "/auth/reset-password"
)

//go:embed html/*.html
var templateFS embed.FS

type Renderer struct {
	templates *template.Template
	publicURL string
	product   string
}

// New parses the embedded templates. publicURL is the base the reset links
// point to.
func New(publicURL, product string) (*Renderer, error) {
	const op = "templates.New"

	tmpl, err := template.ParseFS(templateFS, "html/*.html")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Renderer{
		templates: tmpl,
		publicURL: publicURL,
		product:   product,
	}, nil
}

// ResetLink returns <publicURL>/auth/reset-password?token=<token>.
func (r *Renderer) ResetLink(token string) string {
	base := r.publicURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}

	return base + ResetPasswordPath + "?token=" + url.QueryEscape(token)
}

func (r *Renderer) ResetPasswordEmail(username, token string, ttl time.Duration) (string, string, error) {
	const op = "templates.ResetPasswordEmail"

	data := struct {
		Username      string
		Product       string
		ResetLink     string
		ExpireMinutes int
	}{
		Username:      username,
		Product:       r.product,
		ResetLink:     r.ResetLink(token),
		ExpireMinutes: int(ttl / time.Minute),
	}

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, resetEmailTemplate, data); err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	return ResetPasswordSubject, buf.String(), nil
}

func (r *Renderer) ResetPasswordForm(w io.Writer, token string) error {
	const op = "templates.ResetPasswordForm"

	data := struct {
		Action string
		Token  string
	}{
		Action: ResetPasswordPath,
		Token:  token,
	}

	if err := r.templates.ExecuteTemplate(w, resetFormTemplate, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
