package mailer

import (
	"errors"
	"net/mail"

	validation "github.com/jellydator/validation"
)

// emailFormat accepts a bare addr-spec only; display names belong in Address.Name.
var emailFormat = validation.By(func(value any) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_email_type", "must be a string")
	}
	if s == "" {
		return nil
	}
	parsed, err := mail.ParseAddress(s)
	if err != nil || parsed.Address != s {
		return validation.NewError("validation_email_format", "must be a valid email address")
	}
	return nil
})

// Validate checks a single mailbox.
func (a Address) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Email, validation.Required, emailFormat),
	)
}

// Validate checks that the message can be handed to a provider.
// The returned error wraps ErrInvalidEmail.
func (e *Email) Validate() error {
	err := validation.ValidateStruct(e,
		validation.Field(&e.To, validation.Required.Error("at least one recipient is required")),
		validation.Field(&e.CC),
		validation.Field(&e.BCC),
		validation.Field(&e.Subject, validation.Required),
		validation.Field(&e.HTML, validation.When(e.Text == "", validation.Required.Error("html or text body is required"))),
		validation.Field(&e.ReplyTo, emailFormat),
	)
	if err == nil && e.From.Email != "" {
		err = e.From.Validate()
	}
	if err != nil {
		return errors.Join(ErrInvalidEmail, err)
	}
	return nil
}
