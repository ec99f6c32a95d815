package mailflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/logger"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/metrics"
	"github.com/dmitrymomot/mailflow/pkg/retry"
	"github.com/dmitrymomot/mailflow/pkg/stats"
	"github.com/dmitrymomot/mailflow/pkg/storage"
	"github.com/dmitrymomot/mailflow/pkg/template"
	"github.com/dmitrymomot/mailflow/pkg/webhook"
)

// Service composes the pipeline: template rendering, the job store, the
// provider adapter, the retry scheduler, webhook processing and stats.
type Service struct {
	jobRepo       emailjob.Repository
	events        emailjob.EventRepository
	templateStore template.Store
	provider      mailer.Provider
	dispatcher    Dispatcher
	storage       storage.Storage
	log           *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	newID         func() string
	jobs          *emailjob.Store
	templates     *template.Registry
	webhooks      *webhook.Processor
	stats         *stats.Aggregator
	storagePrefix string
	cfg           Config
}

// New validates cfg and wires the pipeline.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:           cfg,
		jobRepo:       emailjob.NewMemoryRepository(),
		events:        emailjob.NewMemoryEventRepository(),
		log:           logger.NewNope(),
		now:           time.Now,
		newID:         emailjob.NewID,
		storagePrefix: "attachments",
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.templateStore == nil {
		defaults, err := template.Defaults()
		if err != nil {
			return nil, fmt.Errorf("mailflow: load built-in templates: %w", err)
		}
		s.templateStore = template.NewMemoryStore(defaults...)
	}
	if s.provider == nil {
		p, err := NewProvider(cfg, s.log)
		if err != nil {
			return nil, err
		}
		s.provider = p
	}

	s.jobs = emailjob.NewStore(s.jobRepo, retry.NewPolicy(cfg.RetryBaseDelay),
		emailjob.WithLogger(s.log),
		emailjob.WithClock(s.now),
		emailjob.WithIDGenerator(s.newID),
	)
	s.templates = template.NewRegistry(s.templateStore,
		template.WithDefaultLanguage(cfg.DefaultLanguage),
		template.WithLogger(s.log),
	)
	s.stats = stats.NewAggregator(s.jobs)

	parser, err := webhook.ParserFor(s.provider.Name())
	if err != nil {
		parser = webhook.GenericParser{}
	}
	verifier, err := webhook.NewVerifier(s.provider.Name(), cfg.WebhookSecret, cfg.WebhookSignatureHeader)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if verifier == nil {
		s.log.Warn("webhook signature verification disabled: no secret configured")
	}
	s.webhooks = webhook.NewProcessor(s.jobs, s.events, parser,
		webhook.WithVerifier(verifier),
		webhook.WithLogger(s.log),
		webhook.WithClock(s.now),
		webhook.WithObserver(func(ev webhook.ProviderEvent, o webhook.Outcome) {
			name := string(ev.Type)
			if name == "" {
				name = ev.RawType
			}
			s.metrics.WebhookEvent(name, string(o))
		}),
	)
	return s, nil
}

// Provider returns the active delivery adapter.
func (s *Service) Provider() mailer.Provider { return s.provider }

// Templates returns the template registry.
func (s *Service) Templates() *template.Registry { return s.templates }

// SeedTemplates saves the built-in templates into the template store.
// Existing (type, language) pairs are kept unless overwrite is set.
func (s *Service) SeedTemplates(ctx context.Context, overwrite bool) error {
	defaults, err := template.Defaults()
	if err != nil {
		return err
	}
	return s.templates.Seed(ctx, defaults, overwrite)
}

// EmailData is a fully prepared message for SendEmail.
type EmailData struct {
	// ScheduledFor delays the first dispatch.
	ScheduledFor *time.Time
	Variables    map[string]string
	Metadata     map[string]string
	// From overrides Config.FromEmail and Config.FromName.
	From         mailer.Address
	ReplyTo      string
	Subject      string
	HTML         string
	Text         string
	TemplateType string
	Language     string
	To           []mailer.Address
	CC           []mailer.Address
	BCC          []mailer.Address
	Attachments  []mailer.Attachment
	// MaxAttempts overrides Config.MaxAttempts when positive.
	MaxAttempts int
}

// TemplateOptions are the optional parts of SendTemplateEmail.
type TemplateOptions struct {
	ScheduledFor *time.Time
	Metadata     map[string]string
	From         mailer.Address
	Language     string
	ReplyTo      string
	CC           []mailer.Address
	BCC          []mailer.Address
	Attachments  []mailer.Attachment
	MaxAttempts  int
}

// SendTemplateEmail renders the active template for (templateType,
// opts.Language) and sends it. An unknown template or missing variables
// fail before any job exists.
func (s *Service) SendTemplateEmail(
	ctx context.Context,
	to []mailer.Address,
	templateType template.Type,
	variables map[string]string,
	opts TemplateOptions,
) (*emailjob.Job, error) {
	tpl, err := s.templates.Get(ctx, templateType, opts.Language)
	if err != nil {
		return nil, err
	}
	rendered, err := tpl.Render(variables)
	if err != nil {
		s.log.WarnContext(ctx, "template render rejected",
			slog.String("template", string(templateType)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return s.SendEmail(ctx, EmailData{
		ScheduledFor: opts.ScheduledFor,
		Variables:    maps.Clone(variables),
		Metadata:     opts.Metadata,
		From:         opts.From,
		ReplyTo:      opts.ReplyTo,
		Subject:      rendered.Subject,
		HTML:         rendered.HTML,
		Text:         rendered.Text,
		TemplateType: string(tpl.Type),
		Language:     tpl.Language,
		To:           to,
		CC:           opts.CC,
		BCC:          opts.BCC,
		Attachments:  opts.Attachments,
		MaxAttempts:  opts.MaxAttempts,
	})
}

// SendEmail validates data, creates a pending job and starts dispatch:
// inline without a Dispatcher, otherwise by enqueueing the job id. The
// returned job reflects the state after that step.
func (s *Service) SendEmail(ctx context.Context, data EmailData) (*emailjob.Job, error) {
	from := data.From
	if from.Email == "" {
		from = s.cfg.From()
	}
	replyTo := data.ReplyTo
	if replyTo == "" {
		replyTo = s.cfg.ReplyTo
	}
	maxAttempts := data.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	email := &mailer.Email{
		From:        from,
		ReplyTo:     replyTo,
		Subject:     data.Subject,
		HTML:        data.HTML,
		Text:        data.Text,
		To:          data.To,
		CC:          data.CC,
		BCC:         data.BCC,
		Attachments: data.Attachments,
	}
	if err := email.Validate(); err != nil {
		return nil, err
	}

	id := s.newID()
	attachments, err := s.storeAttachments(ctx, id, data.Attachments)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.Create(ctx, emailjob.NewJob{
		ID:           id,
		ScheduledFor: data.ScheduledFor,
		Variables:    data.Variables,
		Metadata:     data.Metadata,
		From:         from,
		ReplyTo:      replyTo,
		Subject:      data.Subject,
		HTML:         data.HTML,
		Text:         data.Text,
		TemplateType: data.TemplateType,
		Language:     data.Language,
		To:           data.To,
		CC:           data.CC,
		BCC:          data.BCC,
		Attachments:  attachments,
		MaxAttempts:  maxAttempts,
	})
	if err != nil {
		s.deleteAttachments(ctx, attachments)
		return nil, err
	}
	s.metrics.JobCreated(job.TemplateType)

	return s.startDispatch(ctx, job), nil
}

// startDispatch hands a freshly created job to dispatch. Failures to
// enqueue are logged and leave the job pending for the sweeper.
func (s *Service) startDispatch(ctx context.Context, job *emailjob.Job) *emailjob.Job {
	ctx = logger.WithJobID(ctx, job.ID)
	delayed := job.ScheduledFor != nil && job.ScheduledFor.After(s.now())

	switch d := s.dispatcher.(type) {
	case nil:
		if delayed {
			return job
		}
		res, err := s.Dispatch(ctx, job.ID)
		if err != nil {
			s.log.WarnContext(ctx, "inline dispatch skipped", slog.String("error", err.Error()))
			if current, err := s.jobs.Get(context.WithoutCancel(ctx), job.ID); err == nil {
				return current
			}
			return job
		}
		return res.Job
	case DelayedDispatcher:
		var err error
		if delayed {
			err = d.EnqueueAt(ctx, job.ID, *job.ScheduledFor)
		} else {
			err = d.Enqueue(ctx, job.ID)
		}
		if err != nil {
			s.log.WarnContext(ctx, "enqueue failed, job left for sweeper", slog.String("error", err.Error()))
		}
	default:
		if delayed {
			return job
		}
		if err := d.Enqueue(ctx, job.ID); err != nil {
			s.log.WarnContext(ctx, "enqueue failed, job left for sweeper", slog.String("error", err.Error()))
		}
	}
	return job
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*emailjob.Job, error) {
	return s.jobs.Get(ctx, id)
}

// ListJobs returns jobs matching f.
func (s *Service) ListJobs(ctx context.Context, f emailjob.Filter) ([]*emailjob.Job, error) {
	return s.jobs.List(ctx, f)
}

// JobEvents returns the audit log of a job in arrival order.
func (s *Service) JobEvents(ctx context.Context, id string) ([]*emailjob.Event, error) {
	if _, err := s.jobs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.events.ListByJob(ctx, id)
}

// CancelJob fails a pending job and removes its offloaded attachments.
func (s *Service) CancelJob(ctx context.Context, id, reason string) (*emailjob.Job, error) {
	job, err := s.jobs.Cancel(ctx, id, reason)
	if err != nil {
		return job, err
	}
	s.deleteAttachments(ctx, job.Attachments)
	return job, nil
}

// HandleWebhook processes one provider callback body. Signature failures
// wrap webhook.ErrSignatureVerification and change nothing.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, header http.Header) error {
	_, err := s.webhooks.Process(ctx, payload, header)
	return err
}

// WebhookHandler serves provider callbacks over HTTP.
func (s *Service) WebhookHandler() http.Handler {
	return webhook.Handler(s.webhooks)
}

// GetEmailStats aggregates deliverability statistics for jobs matching f.
func (s *Service) GetEmailStats(ctx context.Context, f stats.Filter) (*stats.Stats, error) {
	return s.stats.Get(ctx, f)
}
