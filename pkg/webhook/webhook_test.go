package webhook_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/retry"
	"github.com/dmitrymomot/mailflow/pkg/webhook"
)

type fixture struct {
	store  *emailjob.Store
	events *emailjob.MemoryEventRepository
	job    *emailjob.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := emailjob.NewStore(emailjob.NewMemoryRepository(), retry.NewPolicy(time.Minute))

	job, err := store.Create(ctx, emailjob.NewJob{To: mailer.Addresses("anna@example.com"), Subject: "Hi", MaxAttempts: 3})
	require.NoError(t, err)
	_, err = store.MarkSending(ctx, job.ID, "brevo")
	require.NoError(t, err)
	job, err = store.RecordDispatchSuccess(ctx, job.ID, "<msg-1@smtp-relay.brevo.com>")
	require.NoError(t, err)

	return &fixture{store: store, events: emailjob.NewMemoryEventRepository(), job: job}
}

func brevoBody(event string, ts time.Time) []byte {
	return fmt.Appendf(nil, `{"event":%q,"email":"anna@example.com","message-id":"<msg-1@smtp-relay.brevo.com>","ts_epoch":%d}`,
		event, ts.UnixMilli())
}

func TestProcessor_DeliveredOpenedClicked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := webhook.NewProcessor(f.store, f.events, webhook.BrevoParser{})
	base := f.job.SentAt.Add(time.Second).Truncate(time.Millisecond)

	for i, ev := range []string{"delivered", "opened", "click"} {
		summary, err := p.Process(ctx, brevoBody(ev, base.Add(time.Duration(i)*time.Minute)), nil)
		require.NoError(t, err)
		require.Equal(t, 1, summary[webhook.OutcomeApplied], ev)
	}

	job, err := f.store.Get(ctx, f.job.ID)
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusClicked, job.Status)
	require.NotNil(t, job.DeliveredAt)
	require.NotNil(t, job.OpenedAt)
	require.NotNil(t, job.ClickedAt)
	openedAt := *job.OpenedAt

	// Duplicate open after click: audited, not applied.
	summary, err := p.Process(ctx, brevoBody("opened", base.Add(time.Hour)), nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary[webhook.OutcomeRejected])

	job, err = f.store.Get(ctx, f.job.ID)
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusClicked, job.Status)
	require.Equal(t, openedAt, *job.OpenedAt)

	events, err := f.events.ListByJob(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, events, 4, "every event is kept for audit")
	require.Equal(t, emailjob.EventOpened, events[3].Type)
}

func TestProcessor_DuplicateEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := webhook.NewProcessor(f.store, f.events, webhook.BrevoParser{})
	ts := f.job.SentAt.Add(time.Minute)

	summary, err := p.Process(ctx, brevoBody("delivered", ts), nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary[webhook.OutcomeApplied])

	summary, err = p.Process(ctx, brevoBody("delivered", ts.Add(time.Minute)), nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary[webhook.OutcomeDuplicate])

	job, err := f.store.Get(ctx, f.job.ID)
	require.NoError(t, err)
	require.Equal(t, ts.Truncate(time.Millisecond), *job.DeliveredAt)
}

func TestProcessor_RecordsClientDetails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := webhook.NewProcessor(f.store, f.events, webhook.GenericParser{})
	body := []byte(`{"message_id":"<msg-1@smtp-relay.brevo.com>","event":"delivered",` +
		`"ip_address":"203.0.113.7","user_agent":"Mozilla/5.0","location":"Lisbon, PT"}`)

	summary, err := p.Process(ctx, body, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary[webhook.OutcomeApplied])

	events, err := f.events.ListByJob(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "203.0.113.7", events[0].IPAddress)
	require.Equal(t, "Mozilla/5.0", events[0].UserAgent)
	require.Equal(t, "Lisbon, PT", events[0].Location)
}

func TestProcessor_UnknownJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := webhook.NewProcessor(f.store, f.events, webhook.GenericParser{})

	summary, err := p.Process(context.Background(), []byte(`{"message_id":"nope","event":"delivered"}`), nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary[webhook.OutcomeUnknownJob])
}

func TestProcessor_IgnoredTypes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := webhook.NewProcessor(f.store, f.events, webhook.BrevoParser{})

	summary, err := p.Process(ctx, brevoBody("deferred", time.Now()), nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary[webhook.OutcomeIgnored])

	summary, err = p.Process(ctx, brevoBody("unsubscribed", time.Now()), nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary[webhook.OutcomeIgnored])

	events, err := f.events.ListByJob(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1, "unsubscribed is audited, deferred is dropped")
	require.Equal(t, emailjob.EventUnsubscribed, events[0].Type)
}

func TestProcessor_SignatureRequired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	secret := "s3cret"
	p := webhook.NewProcessor(f.store, f.events, webhook.BrevoParser{},
		webhook.WithVerifier(webhook.NewHMACVerifier(secret, "")))
	body := brevoBody("delivered", time.Now())

	_, err := p.Process(ctx, body, http.Header{})
	require.ErrorIs(t, err, webhook.ErrSignatureVerification)

	bad := http.Header{}
	bad.Set(webhook.DefaultSignatureHeader, hex.EncodeToString(webhook.Sign([]byte("other"), body)))
	_, err = p.Process(ctx, body, bad)
	require.ErrorIs(t, err, webhook.ErrSignatureVerification)

	job, err := f.store.Get(ctx, f.job.ID)
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusSent, job.Status, "no state change on failed verification")
	events, err := f.events.ListByJob(ctx, f.job.ID)
	require.NoError(t, err)
	require.Empty(t, events)

	good := http.Header{}
	good.Set(webhook.DefaultSignatureHeader, "sha256="+hex.EncodeToString(webhook.Sign([]byte(secret), body)))
	summary, err := p.Process(ctx, body, good)
	require.NoError(t, err)
	require.Equal(t, 1, summary[webhook.OutcomeApplied])
}

func TestProcessor_Observer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var seen []webhook.Outcome
	p := webhook.NewProcessor(f.store, f.events, webhook.BrevoParser{},
		webhook.WithObserver(func(_ webhook.ProviderEvent, o webhook.Outcome) { seen = append(seen, o) }))

	body := []byte(`[
		{"event":"delivered","message-id":"<msg-1@smtp-relay.brevo.com>"},
		{"event":"delivered","message-id":"<msg-1@smtp-relay.brevo.com>"},
		{"event":"delivered","message-id":"<other>"}
	]`)
	_, err := p.Process(context.Background(), body, nil)
	require.NoError(t, err)
	require.Equal(t, []webhook.Outcome{webhook.OutcomeApplied, webhook.OutcomeDuplicate, webhook.OutcomeUnknownJob}, seen)
}

func TestSvixVerifier(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")
	secret := "whsec_" + base64.StdEncoding.EncodeToString(key)
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"type":"email.delivered"}`)

	v, err := webhook.NewSvixVerifier(secret)
	require.NoError(t, err)
	v.WithClock(func() time.Time { return now })

	sign := func(id string, ts time.Time) http.Header {
		tsStr := strconv.FormatInt(ts.Unix(), 10)
		sig := webhook.Sign(key, []byte(id+"."+tsStr+"."+string(body)))
		h := http.Header{}
		h.Set("svix-id", id)
		h.Set("svix-timestamp", tsStr)
		h.Set("svix-signature", "v1,invalid v1,"+base64.StdEncoding.EncodeToString(sig))
		return h
	}

	require.NoError(t, v.Verify(sign("msg_1", now), body))
	require.ErrorIs(t, v.Verify(sign("msg_1", now.Add(-time.Hour)), body), webhook.ErrSignatureVerification)
	require.ErrorIs(t, v.Verify(sign("msg_1", now), []byte(`{"tampered":true}`)), webhook.ErrSignatureVerification)
	require.ErrorIs(t, v.Verify(http.Header{}, body), webhook.ErrSignatureVerification)
}

func TestNewVerifier(t *testing.T) {
	t.Parallel()

	v, err := webhook.NewVerifier("brevo", "", "")
	require.NoError(t, err)
	require.Nil(t, v, "no secret disables verification")

	v, err = webhook.NewVerifier("brevo", "abc", "")
	require.NoError(t, err)
	require.IsType(t, &webhook.HMACVerifier{}, v)

	v, err = webhook.NewVerifier("resend", "whsec_"+base64.StdEncoding.EncodeToString([]byte("k")), "")
	require.NoError(t, err)
	require.IsType(t, &webhook.SvixVerifier{}, v)
}

func TestParsers(t *testing.T) {
	t.Parallel()

	t.Run("brevo timestamps", func(t *testing.T) {
		events, err := webhook.BrevoParser{}.Parse([]byte(`{"event":"hard_bounce","message-id":"m","ts_event":1700000000}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, emailjob.EventBounced, events[0].Type)
		require.Equal(t, time.Unix(1700000000, 0).UTC(), events[0].Timestamp)
	})

	t.Run("resend click", func(t *testing.T) {
		body := []byte(`{
			"type": "email.clicked",
			"created_at": "2024-05-01T12:00:00Z",
			"data": {
				"email_id": "re_123",
				"to": ["anna@example.com"],
				"click": {"ipAddress": "203.0.113.7", "link": "https://example.com", "timestamp": "2024-05-01T12:00:05Z", "userAgent": "Mozilla"}
			}
		}`)
		events, err := webhook.ResendParser{}.Parse(body)
		require.NoError(t, err)
		require.Len(t, events, 1)
		ev := events[0]
		require.Equal(t, emailjob.EventClicked, ev.Type)
		require.Equal(t, "re_123", ev.MessageID)
		require.Equal(t, "203.0.113.7", ev.IPAddress)
		require.Equal(t, "https://example.com", ev.Link)
		require.Equal(t, time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC), ev.Timestamp)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := webhook.BrevoParser{}.Parse([]byte(`not json`))
		require.ErrorIs(t, err, webhook.ErrInvalidPayload)
		_, err = webhook.ResendParser{}.Parse([]byte(`{}`))
		require.ErrorIs(t, err, webhook.ErrInvalidPayload)
		_, err = webhook.GenericParser{}.Parse(nil)
		require.ErrorIs(t, err, webhook.ErrInvalidPayload)
	})

	t.Run("lookup", func(t *testing.T) {
		_, err := webhook.ParserFor("brevo")
		require.NoError(t, err)
		_, err = webhook.ParserFor("mailgun")
		require.Error(t, err)
	})
}

func TestHandler_StatusCodes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	secret := "s3cret"
	h := webhook.Handler(webhook.NewProcessor(f.store, f.events, webhook.BrevoParser{},
		webhook.WithVerifier(webhook.NewHMACVerifier(secret, ""))))

	do := func(body []byte, sign bool) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
		if sign {
			req.Header.Set(webhook.DefaultSignatureHeader, hex.EncodeToString(webhook.Sign([]byte(secret), body)))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, do(brevoBody("delivered", time.Now()), false))
	require.Equal(t, http.StatusBadRequest, do([]byte(`{broken`), true))
	require.Equal(t, http.StatusOK, do(brevoBody("delivered", time.Now()), true))
	require.Equal(t, http.StatusOK, do([]byte(`{"event":"delivered","message-id":"unknown"}`), true))
}
