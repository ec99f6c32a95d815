package mailflow_test

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailflow"
	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/stats"
	"github.com/dmitrymomot/mailflow/pkg/storage"
	"github.com/dmitrymomot/mailflow/pkg/template"
	"github.com/dmitrymomot/mailflow/pkg/webhook"
)

// fakeProvider returns scripted errors in order, then succeeds.
type fakeProvider struct {
	onSend func()
	mu     sync.Mutex
	errs   []error
	sent   []*mailer.Email
	nextID int
}

func (p *fakeProvider) Name() string { return "brevo" }

func (p *fakeProvider) Send(_ context.Context, e *mailer.Email) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.onSend != nil {
		p.onSend()
	}
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return "", err
	}
	p.sent = append(p.sent, e)
	p.nextID++
	return fmt.Sprintf("<msg-%d@smtp-relay.brevo.com>", p.nextID), nil
}

func (p *fakeProvider) Sent() []*mailer.Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*mailer.Email(nil), p.sent...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *mailflow.Service
	provider *fakeProvider
	clock    *clock
	jobs     *emailjob.MemoryRepository
}

func testConfig() mailflow.Config {
	cfg := mailflow.DefaultConfig()
	cfg.Provider = "brevo"
	cfg.ProviderAPIKey = "test-key"
	cfg.FromEmail = "noreply@example.com"
	cfg.FromName = "Example"
	cfg.RetryBaseDelay = 5 * time.Minute
	return cfg
}

func newFixture(t *testing.T, cfg mailflow.Config, opts ...mailflow.Option) *fixture {
	t.Helper()

	f := &fixture{
		provider: &fakeProvider{},
		clock:    &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		jobs:     emailjob.NewMemoryRepository(),
	}
	seq := 0
	opts = append([]mailflow.Option{
		mailflow.WithProvider(f.provider),
		mailflow.WithClock(f.clock.Now),
		mailflow.WithRepositories(f.jobs, emailjob.NewMemoryEventRepository()),
		mailflow.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("job-%03d", seq)
		}),
	}, opts...)

	svc, err := mailflow.New(cfg, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func welcomeVars() map[string]string {
	return map[string]string{
		"userName":         "Ada",
		"verificationLink": "https://example.com/verify?t=1",
		"supportEmail":     "help@example.com",
	}
}

func TestSendTemplateEmail_MissingVariablesCreatesNoJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	ctx := context.Background()

	job, err := f.svc.SendTemplateEmail(ctx, mailer.Addresses("ada@example.com"), template.TypeWelcome,
		map[string]string{"userName": "Ada"}, mailflow.TemplateOptions{})
	require.Nil(t, job)
	require.ErrorIs(t, err, template.ErrMissingVariables)

	var missing *template.MissingVariablesError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"verificationLink", "supportEmail"}, missing.Missing)

	jobs, err := f.svc.ListJobs(ctx, emailjob.Filter{})
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.Empty(t, f.provider.Sent())
}

func TestSendTemplateEmail_UnknownTemplate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	_, err := f.svc.SendTemplateEmail(context.Background(), mailer.Addresses("ada@example.com"), template.TypeReport,
		nil, mailflow.TemplateOptions{})
	require.ErrorIs(t, err, template.ErrTemplateNotFound)
}

func TestSendTemplateEmail_Dispatched(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	job, err := f.svc.SendTemplateEmail(context.Background(), mailer.Addresses("ada@example.com"), template.TypeWelcome,
		welcomeVars(), mailflow.TemplateOptions{Language: "EN_us", Metadata: map[string]string{"campaign": "onboarding"}})
	require.NoError(t, err)

	require.Equal(t, emailjob.StatusSent, job.Status)
	require.Equal(t, "<msg-1@smtp-relay.brevo.com>", job.ProviderMessageID)
	require.Equal(t, "brevo", job.Provider)
	require.Equal(t, "welcome", job.TemplateType)
	require.Equal(t, "en", job.Language)
	require.Equal(t, 0, job.Attempts)
	require.NotNil(t, job.SentAt)
	require.Nil(t, job.ScheduledFor)

	sent := f.provider.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "Welcome, Ada!", sent[0].Subject)
	require.Equal(t, "noreply@example.com", sent[0].From.Email)
	require.Contains(t, sent[0].HTML, "https://example.com/verify?t=1")
	require.Equal(t, mailer.Tags{"campaign": "onboarding"}, sent[0].Tags)
}

func TestSendEmail_InvalidCreatesNoJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	_, err := f.svc.SendEmail(context.Background(), mailflow.EmailData{
		To:      mailer.Addresses("not-an-email"),
		Subject: "Hi",
		Text:    "Hello",
	})
	require.ErrorIs(t, err, mailer.ErrInvalidEmail)

	jobs, err := f.svc.ListJobs(context.Background(), emailjob.Filter{})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestDispatch_RetryThenPermanentFailure(t *testing.T) {
	t.Parallel()

	apiErr := mailer.NewAPIError("brevo", http.StatusServiceUnavailable, "unavailable")
	f := newFixture(t, testConfig())
	f.provider.errs = []error{apiErr, apiErr, apiErr}
	ctx := context.Background()
	start := f.clock.Now()

	job, err := f.svc.SendEmail(ctx, mailflow.EmailData{
		To:      mailer.Addresses("ada@example.com"),
		Subject: "Hi",
		Text:    "Hello",
	})
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusPending, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.Equal(t, start.Add(5*time.Minute), *job.ScheduledFor)
	require.Equal(t, apiErr.Error(), job.LastError)

	// Not yet due.
	n, err := f.svc.RedispatchDue(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = f.svc.Dispatch(ctx, job.ID)
	require.ErrorIs(t, err, mailflow.ErrNotDispatchable)

	f.clock.Advance(5 * time.Minute)
	n, err = f.svc.RedispatchDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err = f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 2, job.Attempts)
	require.Equal(t, f.clock.Now().Add(10*time.Minute), *job.ScheduledFor)

	f.clock.Advance(10 * time.Minute)
	res, err := f.svc.Dispatch(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, mailflow.PermanentlyFailed, res.Outcome)
	require.ErrorIs(t, res.Err, mailer.ErrSendFailed)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, emailjob.StatusFailed, res.Job.Status)
	require.Nil(t, res.Job.ScheduledFor)

	_, err = f.svc.Dispatch(ctx, job.ID)
	require.ErrorIs(t, err, mailflow.ErrNotDispatchable)
}

func TestDispatch_RecoversAfterRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	f.provider.errs = []error{mailer.NewTransportError("brevo", errors.New("dial tcp: timeout"))}
	ctx := context.Background()

	job, err := f.svc.SendEmail(ctx, mailflow.EmailData{To: mailer.Addresses("ada@example.com"), Subject: "Hi", Text: "Hello"})
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusPending, job.Status)

	f.clock.Advance(5 * time.Minute)
	res, err := f.svc.Dispatch(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, mailflow.Dispatched, res.Outcome)
	require.Equal(t, 1, res.Job.Attempts)
	require.Equal(t, "brevo: transport error: dial tcp: timeout", res.Job.LastError)
}

// cancelAwareRepository fails writes on a done context, as a pgx pool does
// when it cannot begin a transaction.
type cancelAwareRepository struct {
	*emailjob.MemoryRepository
}

func (r cancelAwareRepository) Update(ctx context.Context, id string, fn emailjob.UpdateFunc) (*emailjob.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.MemoryRepository.Update(ctx, id, fn)
}

func TestDispatch_RecordsOutcomeAfterCallerCancels(t *testing.T) {
	t.Parallel()

	jobs := emailjob.NewMemoryRepository()
	f := newFixture(t, testConfig(),
		mailflow.WithRepositories(cancelAwareRepository{jobs}, emailjob.NewMemoryEventRepository()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.provider.onSend = cancel
	f.provider.errs = []error{mailer.NewTransportError("brevo", context.Canceled)}

	job, err := f.svc.SendEmail(ctx, mailflow.EmailData{To: mailer.Addresses("ada@example.com"), Subject: "Hi", Text: "Hello"})
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusPending, job.Status)
	require.Equal(t, 1, job.Attempts)

	stored, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusPending, stored.Status)
	require.Contains(t, stored.LastError, "context canceled")
	require.NotNil(t, stored.ScheduledFor)
}

// markSending simulates a dispatcher that claimed the job and then died.
func markSending(t *testing.T, f *fixture, id string) {
	t.Helper()
	_, err := f.jobs.Update(context.Background(), id, func(j *emailjob.Job) (bool, error) {
		j.Status = emailjob.StatusSending
		j.Provider = "brevo"
		j.ScheduledFor = nil
		j.UpdatedAt = f.clock.Now()
		return true, nil
	})
	require.NoError(t, err)
}

func TestSweep_ReclaimsInterruptedDispatch(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	ctx := context.Background()
	staleAfter := cfg.RequestTimeout + cfg.SweepGrace

	t.Run("retries", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, cfg)
		later := f.clock.Now().Add(time.Hour)
		job, err := f.svc.SendEmail(ctx, mailflow.EmailData{
			To: mailer.Addresses("ada@example.com"), Subject: "Hi", Text: "Hello", ScheduledFor: &later,
		})
		require.NoError(t, err)
		markSending(t, f, job.ID)

		n, err := f.svc.ReclaimStale(ctx, 10)
		require.NoError(t, err)
		require.Zero(t, n, "a recent claim may still be sending")

		f.clock.Advance(staleAfter + time.Second)
		require.NoError(t, f.svc.Sweep(ctx))

		job, err = f.svc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, emailjob.StatusPending, job.Status)
		require.Equal(t, 1, job.Attempts)
		require.Equal(t, mailflow.ErrDispatchInterrupted.Error(), job.LastError)
		require.Equal(t, f.clock.Now().Add(5*time.Minute), *job.ScheduledFor)

		f.clock.Advance(5 * time.Minute)
		require.NoError(t, f.svc.Sweep(ctx))
		job, err = f.svc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, emailjob.StatusSent, job.Status)
		require.Len(t, f.provider.Sent(), 1)
	})

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, cfg)
		later := f.clock.Now().Add(time.Hour)
		job, err := f.svc.SendEmail(ctx, mailflow.EmailData{
			To: mailer.Addresses("ada@example.com"), Subject: "Hi", Text: "Hello", ScheduledFor: &later, MaxAttempts: 1,
		})
		require.NoError(t, err)
		markSending(t, f, job.ID)

		f.clock.Advance(staleAfter + time.Second)
		n, err := f.svc.ReclaimStale(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		job, err = f.svc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, emailjob.StatusFailed, job.Status)
		require.Equal(t, mailflow.ErrDispatchInterrupted.Error(), job.LastError)
		require.Empty(t, f.provider.Sent())
	})
}

func signedHeader(secret string, body []byte) http.Header {
	h := http.Header{}
	h.Set(webhook.DefaultSignatureHeader, hex.EncodeToString(webhook.Sign([]byte(secret), body)))
	return h
}

func TestHandleWebhook_Lifecycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WebhookSecret = "s3cret"
	f := newFixture(t, cfg)
	ctx := context.Background()

	job, err := f.svc.SendEmail(ctx, mailflow.EmailData{To: mailer.Addresses("ada@example.com"), Subject: "Hi", Text: "Hello"})
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusSent, job.Status)

	post := func(event string, epochMs int64) error {
		body := fmt.Appendf(nil, `{"event":%q,"email":"ada@example.com","message-id":%q,"ts_epoch":%d}`,
			event, job.ProviderMessageID, epochMs)
		return f.svc.HandleWebhook(ctx, body, signedHeader(cfg.WebhookSecret, body))
	}

	base := f.clock.Now().UnixMilli()
	require.NoError(t, post("delivered", base+1000))
	require.NoError(t, post("opened", base+2000))
	require.NoError(t, post("click", base+3000))
	require.NoError(t, post("click", base+4000))

	job, err = f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusClicked, job.Status)
	require.Equal(t, time.UnixMilli(base+1000).UTC(), *job.DeliveredAt)
	require.Equal(t, time.UnixMilli(base+3000).UTC(), *job.ClickedAt)

	events, err := f.svc.JobEvents(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)

	body := []byte(`{"event":"delivered","message-id":"x"}`)
	err = f.svc.HandleWebhook(ctx, body, http.Header{webhook.DefaultSignatureHeader: {"deadbeef"}})
	require.ErrorIs(t, err, webhook.ErrSignatureVerification)
}

func TestGetEmailStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	ctx := context.Background()

	var sent []*emailjob.Job
	for i := range 4 {
		job, err := f.svc.SendEmail(ctx, mailflow.EmailData{
			To:      mailer.Addresses(fmt.Sprintf("user%d@example.com", i)),
			Subject: "Hi",
			Text:    "Hello",
		})
		require.NoError(t, err)
		sent = append(sent, job)
	}
	for _, job := range sent[:3] {
		body := fmt.Appendf(nil, `{"event":"delivered","message-id":%q}`, job.ProviderMessageID)
		require.NoError(t, f.svc.HandleWebhook(ctx, body, nil))
	}
	body := fmt.Appendf(nil, `{"event":"hard_bounce","message-id":%q}`, sent[3].ProviderMessageID)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, nil))

	s, err := f.svc.GetEmailStats(ctx, stats.Filter{})
	require.NoError(t, err)
	require.Equal(t, 4, s.TotalSent)
	require.Equal(t, 3, s.TotalDelivered)
	require.Equal(t, 1, s.TotalBounced)
	require.InDelta(t, 75.0, s.DeliveryRate, 1e-9)
	require.InDelta(t, 25.0, s.BounceRate, 1e-9)
	require.Zero(t, s.OpenRate)

	s, err = f.svc.GetEmailStats(ctx, stats.Filter{Recipient: "user3@example.com"})
	require.NoError(t, err)
	require.Equal(t, 1, s.TotalSent)
	require.Equal(t, 1, s.TotalBounced)
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	ctx := context.Background()
	later := f.clock.Now().Add(time.Hour)

	job, err := f.svc.SendEmail(ctx, mailflow.EmailData{
		ScheduledFor: &later,
		To:           mailer.Addresses("ada@example.com"),
		Subject:      "Hi",
		Text:         "Hello",
	})
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusPending, job.Status)
	require.Empty(t, f.provider.Sent(), "delayed job is not dispatched inline")

	job, err = f.svc.CancelJob(ctx, job.ID, "user request")
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusFailed, job.Status)
	require.Equal(t, "canceled: user request", job.LastError)

	_, err = f.svc.CancelJob(ctx, job.ID, "")
	require.ErrorIs(t, err, emailjob.ErrInvalidTransition)
}

func TestSendEmail_OffloadsAttachments(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory(0)
	f := newFixture(t, testConfig(), mailflow.WithAttachmentStorage(store, "attachments"))
	f.provider.errs = []error{mailer.NewAPIError("brevo", 500, "oops")}
	ctx := context.Background()

	job, err := f.svc.SendEmail(ctx, mailflow.EmailData{
		To:          mailer.Addresses("ada@example.com"),
		Subject:     "Invoice",
		Text:        "Attached.",
		Attachments: []mailer.Attachment{{Filename: "invoice.pdf", Content: []byte("%PDF-1.4")}},
	})
	require.NoError(t, err)
	require.Len(t, job.Attachments, 1)
	require.Equal(t, "attachments/job-001/0-invoice.pdf", job.Attachments[0].StorageKey)
	require.Equal(t, "application/pdf", job.Attachments[0].ContentType)
	require.Empty(t, job.Attachments[0].Content)
	require.Equal(t, []string{"attachments/job-001/0-invoice.pdf"}, store.Keys())

	f.clock.Advance(5 * time.Minute)
	res, err := f.svc.Dispatch(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, mailflow.Dispatched, res.Outcome)

	sent := f.provider.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, []byte("%PDF-1.4"), sent[0].Attachments[0].Content)
	require.Empty(t, store.Keys(), "attachments are removed once sent")
}

type recordingDispatcher struct {
	mu  sync.Mutex
	now []string
	at  map[string]time.Time
}

func (d *recordingDispatcher) Enqueue(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = append(d.now, id)
	return nil
}

func (d *recordingDispatcher) EnqueueAt(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.at == nil {
		d.at = map[string]time.Time{}
	}
	d.at[id] = at
	return nil
}

func TestSendEmail_WithDelayedDispatcher(t *testing.T) {
	t.Parallel()

	d := &recordingDispatcher{}
	f := newFixture(t, testConfig(), mailflow.WithDispatcher(d))
	f.provider.errs = []error{mailer.NewAPIError("brevo", 502, "bad gateway")}
	ctx := context.Background()

	job, err := f.svc.SendEmail(ctx, mailflow.EmailData{To: mailer.Addresses("ada@example.com"), Subject: "Hi", Text: "Hello"})
	require.NoError(t, err)
	require.Equal(t, emailjob.StatusPending, job.Status)
	require.Equal(t, []string{job.ID}, d.now)
	require.Empty(t, f.provider.Sent())

	require.NoError(t, f.svc.DispatchJob(ctx, job.ID))
	require.Equal(t, f.clock.Now().Add(5*time.Minute), d.at[job.ID], "retry enqueued at its scheduled time")

	// Already claimed or not due: not an error for workers.
	require.NoError(t, f.svc.DispatchJob(ctx, job.ID))
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Provider = "pigeon"
	_, err := mailflow.New(cfg)
	require.ErrorIs(t, err, mailflow.ErrInvalidConfig)

	cfg = testConfig()
	cfg.ProviderAPIKey = ""
	_, err = mailflow.New(cfg)
	require.ErrorIs(t, err, mailflow.ErrInvalidConfig)

	cfg = testConfig()
	cfg.MaxAttempts = 0
	_, err = mailflow.New(cfg)
	require.ErrorIs(t, err, mailflow.ErrInvalidConfig)
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"resend", "brevo", "smtp", "log"} {
		cfg := mailflow.DefaultConfig()
		cfg.Provider = name
		cfg.ProviderAPIKey = "k"
		p, err := mailflow.NewProvider(cfg, nil)
		require.NoError(t, err, name)
		require.Equal(t, name, p.Name())
	}

	_, err := mailflow.NewProvider(mailflow.Config{Provider: "pigeon"}, nil)
	require.ErrorIs(t, err, mailflow.ErrUnknownProvider)
}
