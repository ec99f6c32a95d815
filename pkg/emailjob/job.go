package emailjob

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/dmitrymomot/mailflow/pkg/mailer"
)

// Job tracks one outbound message through its delivery lifecycle.
type Job struct {
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	ScheduledFor      *time.Time        `json:"scheduled_for,omitempty"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time        `json:"opened_at,omitempty"`
	ClickedAt         *time.Time        `json:"clicked_at,omitempty"`
	BouncedAt         *time.Time        `json:"bounced_at,omitempty"`
	ComplainedAt      *time.Time        `json:"complained_at,omitempty"`
	Variables         map[string]string `json:"variables,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	From              mailer.Address    `json:"from"`
	ID                string            `json:"id"`
	ReplyTo           string            `json:"reply_to,omitempty"`
	Subject           string            `json:"subject"`
	HTML              string            `json:"html,omitempty"`
	Text              string            `json:"text,omitempty"`
	TemplateType      string            `json:"template_type,omitempty"`
	Language          string            `json:"language,omitempty"`
	Status            Status            `json:"status"`
	Provider          string            `json:"provider,omitempty"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
	To                []mailer.Address  `json:"to"`
	CC                []mailer.Address  `json:"cc,omitempty"`
	BCC               []mailer.Address  `json:"bcc,omitempty"`
	Attachments       []Attachment      `json:"attachments,omitempty"`
	Attempts          int               `json:"attempts"`
	MaxAttempts       int               `json:"max_attempts"`
}

// Attachment is either inline Content or a StorageKey pointing at
// offloaded bytes.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
	StorageKey  string `json:"storage_key,omitempty"`
	Content     []byte `json:"content,omitempty"`
	Size        int64  `json:"size"`
}

// HasRecipient reports whether email is one of the To, CC or BCC addresses.
func (j *Job) HasRecipient(email string) bool {
	match := func(a mailer.Address) bool { return a.Email == email }
	return slices.ContainsFunc(j.To, match) || slices.ContainsFunc(j.CC, match) || slices.ContainsFunc(j.BCC, match)
}

// Email builds the provider message. Attachments must already carry content.
func (j *Job) Email() *mailer.Email {
	e := &mailer.Email{
		From:    j.From,
		ReplyTo: j.ReplyTo,
		Subject: j.Subject,
		HTML:    j.HTML,
		Text:    j.Text,
		To:      slices.Clone(j.To),
		CC:      slices.Clone(j.CC),
		BCC:     slices.Clone(j.BCC),
	}
	if len(j.Metadata) > 0 {
		e.Tags = mailer.Tags(maps.Clone(j.Metadata))
	}
	for _, a := range j.Attachments {
		e.Attachments = append(e.Attachments, mailer.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
			Content:     a.Content,
		})
	}
	return e
}

// timestampFor returns the lifecycle field set on entering s.
func (j *Job) timestampFor(s Status) **time.Time {
	switch s {
	case StatusSent:
		return &j.SentAt
	case StatusDelivered:
		return &j.DeliveredAt
	case StatusOpened:
		return &j.OpenedAt
	case StatusClicked:
		return &j.ClickedAt
	case StatusBounced:
		return &j.BouncedAt
	case StatusComplained:
		return &j.ComplainedAt
	}
	return nil
}

// latestTimestamp is the newest lifecycle timestamp already recorded.
func (j *Job) latestTimestamp() time.Time {
	var latest time.Time
	for _, ts := range []*time.Time{j.SentAt, j.DeliveredAt, j.OpenedAt, j.ClickedAt, j.BouncedAt, j.ComplainedAt} {
		if ts != nil && ts.After(latest) {
			latest = *ts
		}
	}
	return latest
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	c.To = slices.Clone(j.To)
	c.CC = slices.Clone(j.CC)
	c.BCC = slices.Clone(j.BCC)
	c.Variables = maps.Clone(j.Variables)
	c.Metadata = maps.Clone(j.Metadata)
	c.Attachments = slices.Clone(j.Attachments)
	for _, p := range []**time.Time{&c.ScheduledFor, &c.SentAt, &c.DeliveredAt, &c.OpenedAt, &c.ClickedAt, &c.BouncedAt, &c.ComplainedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &c
}

// EventType is a provider-reported occurrence.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
)

// Status maps an event to the job status it advances to. Unsubscribed has
// no status and is recorded for audit only.
func (t EventType) Status() (Status, bool) {
	switch t {
	case EventSent:
		return StatusSent, true
	case EventDelivered:
		return StatusDelivered, true
	case EventOpened:
		return StatusOpened, true
	case EventClicked:
		return StatusClicked, true
	case EventBounced:
		return StatusBounced, true
	case EventComplained:
		return StatusComplained, true
	}
	return "", false
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := t.Status()
	return ok || t == EventUnsubscribed
}

// Event is an append-only audit record of a provider callback.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	CreatedAt time.Time       `json:"created_at"`
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Type      EventType       `json:"type"`
	IPAddress string          `json:"ip_address,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	Location  string          `json:"location,omitempty"`
	Link      string          `json:"link,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}
