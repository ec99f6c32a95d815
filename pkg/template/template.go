package template

import (
	"time"
)

// Type is the kind of message a template renders.
type Type string

const (
	TypeWelcome           Type = "welcome"
	TypeEmailVerification Type = "email_verification"
	TypePasswordReset     Type = "password_reset"
	TypeNotification      Type = "notification"
	TypeCampaign          Type = "campaign"
	TypeReport            Type = "report"
)

// Template is one localized message pattern. At most one template exists
// per (Type, Language) pair.
type Template struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Type        Type      `json:"type"`
	Language    string    `json:"language"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"html_content"`
	TextContent string    `json:"text_content"`
	// Variables is the ordered set of placeholder names the caller must supply.
	Variables []string `json:"variables"`
	IsActive  bool     `json:"is_active"`
}

// Rendered is the output of Template.Render.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Render validates vars against the declared variables and renders all
// three parts. HTML values are sanitized, subject and text are not.
func (t *Template) Render(vars map[string]string) (*Rendered, error) {
	if res := Validate(t, vars); !res.Valid {
		return nil, &MissingVariablesError{Type: t.Type, Language: t.Language, Missing: res.Missing}
	}
	return &Rendered{
		Subject: Render(t.Subject, vars),
		HTML:    RenderHTML(t.HTMLContent, vars),
		Text:    Render(t.TextContent, vars),
	}, nil
}

// Key is the (type, language) identity used by stores and caches. The
// language is normalized, so "pt-BR" and "pt" share a key.
func Key(typ Type, language string) string {
	return string(typ) + ":" + NormalizeLanguage(language)
}
