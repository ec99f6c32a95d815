package mailer

import (
	"fmt"
	"net/mail"
)

// Address is a single mailbox: an email address with an optional display name.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// String formats the address in RFC 5322 form.
// Returns "Name <email>" if a name is set, otherwise just the email.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// ParseAddress parses "Name <email>" or a bare email into an Address.
func ParseAddress(s string) (Address, error) {
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address{Name: parsed.Name, Email: parsed.Address}, nil
}

// Addresses is a convenience for building a recipient list from bare emails.
func Addresses(emails ...string) []Address {
	out := make([]Address, len(emails))
	for i, e := range emails {
		out[i] = Address{Email: e}
	}
	return out
}

// Tags are custom key-value labels attached to a message.
// Each adapter maps them onto the provider's tagging mechanism.
type Tags map[string]string

// SimpleTags creates presence-only tags from a list of names.
// Presence-only tags carry the value "true".
func SimpleTags(names ...string) Tags {
	t := make(Tags, len(names))
	for _, n := range names {
		t[n] = "true"
	}
	return t
}

// Email is a fully-prepared message ready to hand to a Provider.
type Email struct {
	Headers     map[string]string
	Tags        Tags
	From        Address // zero value means the provider default sender
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	To          []Address // at least one
	CC          []Address
	BCC         []Address
	Attachments []Attachment
}

// Attachment is a file attached to an email.
type Attachment struct {
	Filename    string
	ContentType string // MIME type, e.g. "application/pdf"
	ContentID   string // optional, for inline attachments
	Content     []byte
}
