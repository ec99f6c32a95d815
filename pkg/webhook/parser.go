package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrymomot/mailflow/pkg/emailjob"
)

// ProviderEvent is one provider callback decoded into internal terms.
// Type is empty when the provider event has no internal equivalent.
type ProviderEvent struct {
	Timestamp time.Time
	Raw       json.RawMessage
	MessageID string
	Type      emailjob.EventType
	RawType   string
	Recipient string
	IPAddress string
	UserAgent string
	Location  string
	Link      string
}

// Parser decodes a provider's webhook body. A body may hold several events.
type Parser interface {
	Parse(body []byte) ([]ProviderEvent, error)
}

// ParserFor returns the payload parser for a provider name.
func ParserFor(provider string) (Parser, error) {
	switch provider {
	case "brevo":
		return BrevoParser{}, nil
	case "resend":
		return ResendParser{}, nil
	case "smtp", "log", "generic":
		return GenericParser{}, nil
	}
	return nil, fmt.Errorf("webhook: no parser for provider %q", provider)
}

// BrevoParser decodes Brevo transactional webhooks: a single object or,
// with batching enabled, an array of objects.
type BrevoParser struct{}

type brevoEvent struct {
	Event     string `json:"event"`
	Email     string `json:"email"`
	MessageID string `json:"message-id"`
	Date      string `json:"date"`
	Link      string `json:"link"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	TSEpoch   int64  `json:"ts_epoch"`
	TSEvent   int64  `json:"ts_event"`
}

var brevoTypes = map[string]emailjob.EventType{
	"request":       emailjob.EventSent,
	"delivered":     emailjob.EventDelivered,
	"opened":        emailjob.EventOpened,
	"unique_opened": emailjob.EventOpened,
	"proxy_open":    emailjob.EventOpened,
	"click":         emailjob.EventClicked,
	"hard_bounce":   emailjob.EventBounced,
	"blocked":       emailjob.EventBounced,
	"invalid_email": emailjob.EventBounced,
	"spam":          emailjob.EventComplained,
	"complaint":     emailjob.EventComplained,
	"unsubscribed":  emailjob.EventUnsubscribed,
}

func (BrevoParser) Parse(body []byte) ([]ProviderEvent, error) {
	raws, err := splitObjects(body)
	if err != nil {
		return nil, err
	}

	out := make([]ProviderEvent, 0, len(raws))
	for _, raw := range raws {
		var e brevoEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		out = append(out, ProviderEvent{
			Timestamp: brevoTime(e),
			Raw:       raw,
			MessageID: e.MessageID,
			Type:      brevoTypes[strings.ToLower(e.Event)],
			RawType:   e.Event,
			Recipient: e.Email,
			IPAddress: e.IP,
			UserAgent: e.UserAgent,
			Link:      e.Link,
		})
	}
	return out, nil
}

func brevoTime(e brevoEvent) time.Time {
	switch {
	case e.TSEpoch > 0:
		return time.UnixMilli(e.TSEpoch).UTC()
	case e.TSEvent > 0:
		return time.Unix(e.TSEvent, 0).UTC()
	case e.Date != "":
		if t, err := time.Parse(time.DateTime, e.Date); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ResendParser decodes Resend webhooks: {"type", "created_at", "data"}.
type ResendParser struct{}

type resendEvent struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      struct {
		EmailID string   `json:"email_id"`
		To      []string `json:"to"`
		Click   *struct {
			IPAddress string    `json:"ipAddress"`
			Link      string    `json:"link"`
			Timestamp time.Time `json:"timestamp"`
			UserAgent string    `json:"userAgent"`
		} `json:"click"`
	} `json:"data"`
}

var resendTypes = map[string]emailjob.EventType{
	"email.sent":       emailjob.EventSent,
	"email.delivered":  emailjob.EventDelivered,
	"email.opened":     emailjob.EventOpened,
	"email.clicked":    emailjob.EventClicked,
	"email.bounced":    emailjob.EventBounced,
	"email.complained": emailjob.EventComplained,
}

func (ResendParser) Parse(body []byte) ([]ProviderEvent, error) {
	var e resendEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}

	ev := ProviderEvent{
		Timestamp: e.CreatedAt.UTC(),
		Raw:       json.RawMessage(body),
		MessageID: e.Data.EmailID,
		Type:      resendTypes[e.Type],
		RawType:   e.Type,
	}
	if len(e.Data.To) > 0 {
		ev.Recipient = e.Data.To[0]
	}
	if c := e.Data.Click; c != nil {
		ev.IPAddress = c.IPAddress
		ev.UserAgent = c.UserAgent
		ev.Link = c.Link
		if !c.Timestamp.IsZero() {
			ev.Timestamp = c.Timestamp.UTC()
		}
	}
	return []ProviderEvent{ev}, nil
}

// GenericParser decodes mailflow's own event shape, used by providers
// without a native webhook format:
//
//	{"message_id": "...", "event": "delivered", "timestamp": "RFC3339"}
type GenericParser struct{}

type genericEvent struct {
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
	Event     string    `json:"event"`
	Recipient string    `json:"recipient"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Location  string    `json:"location"`
	Link      string    `json:"link"`
}

func (GenericParser) Parse(body []byte) ([]ProviderEvent, error) {
	raws, err := splitObjects(body)
	if err != nil {
		return nil, err
	}

	out := make([]ProviderEvent, 0, len(raws))
	for _, raw := range raws {
		var e genericEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		typ := emailjob.EventType(e.Event)
		if !typ.Valid() {
			typ = ""
		}
		out = append(out, ProviderEvent{
			Timestamp: e.Timestamp.UTC(),
			Raw:       raw,
			MessageID: e.MessageID,
			Type:      typ,
			RawType:   e.Event,
			Recipient: e.Recipient,
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			Location:  e.Location,
			Link:      e.Link,
		})
	}
	return out, nil
}

// splitObjects accepts a JSON object or an array of objects.
func splitObjects(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return list, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidPayload)
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
