package emailjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/mailflow/pkg/db"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
)

// PostgresRepository stores jobs in the email_jobs table. Update holds a
// row lock for the duration of the mutation.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over an open pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const jobColumns = `id, to_addresses, cc_addresses, bcc_addresses, from_address, reply_to,
	subject, html, text, template_type, language, variables, metadata, attachments,
	status, provider, COALESCE(provider_message_id, ''), attempts, max_attempts, last_error,
	scheduled_for, sent_at, delivered_at, opened_at, clicked_at, bounced_at, complained_at,
	created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, j *Job) error {
	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO email_jobs (
			id, to_addresses, cc_addresses, bcc_addresses, from_address, reply_to,
			subject, html, text, template_type, language, variables, metadata, attachments,
			status, provider, provider_message_id, attempts, max_attempts, last_error,
			scheduled_for, sent_at, delivered_at, opened_at, clicked_at, bounced_at, complained_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, NULLIF($17, ''), $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29
		)`, args...)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidJob, j.ID)
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Job, error) {
	return getJob(ctx, r.pool, `SELECT `+jobColumns+` FROM email_jobs WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByProviderMessageID(ctx context.Context, messageID string) (*Job, error) {
	return getJob(ctx, r.pool, `SELECT `+jobColumns+` FROM email_jobs WHERE provider_message_id = $1`, messageID)
}

func (r *PostgresRepository) Update(ctx context.Context, id string, fn UpdateFunc) (*Job, error) {
	var result *Job
	var fnErr error
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := getJob(ctx, tx, `SELECT `+jobColumns+` FROM email_jobs WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}

		next := current.Clone()
		changed, err := fn(next)
		if err != nil || !changed {
			// Commit the empty transaction; the caller sees fn's error.
			result, fnErr = current, err
			return nil
		}

		args, err := jobArgs(next)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE email_jobs SET
				to_addresses = $2, cc_addresses = $3, bcc_addresses = $4, from_address = $5, reply_to = $6,
				subject = $7, html = $8, text = $9, template_type = $10, language = $11,
				variables = $12, metadata = $13, attachments = $14,
				status = $15, provider = $16, provider_message_id = NULLIF($17, ''),
				attempts = $18, max_attempts = $19, last_error = $20,
				scheduled_for = $21, sent_at = $22, delivered_at = $23, opened_at = $24,
				clicked_at = $25, bounced_at = $26, complained_at = $27,
				created_at = $28, updated_at = $29
			WHERE id = $1`, args...)
		if err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, fnErr
}

func (r *PostgresRepository) ListDue(ctx context.Context, now, createdBefore time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return listJobs(ctx, r.pool, `
		SELECT `+jobColumns+` FROM email_jobs
		WHERE status = 'pending'
		  AND ((scheduled_for IS NOT NULL AND scheduled_for <= $1)
		    OR (scheduled_for IS NULL AND created_at <= $2))
		ORDER BY COALESCE(scheduled_for, created_at), id
		LIMIT $3`, now, createdBefore, limit)
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.CreatedFrom.IsZero() {
		where = append(where, "created_at >= "+arg(f.CreatedFrom))
	}
	if !f.CreatedTo.IsZero() {
		where = append(where, "created_at < "+arg(f.CreatedTo))
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < "+arg(f.UpdatedBefore))
	}
	if f.Recipient != "" {
		contains, err := json.Marshal([]mailer.Address{{Email: f.Recipient}})
		if err != nil {
			return nil, err
		}
		p := arg(string(contains))
		where = append(where, fmt.Sprintf("(to_addresses @> %[1]s::jsonb OR cc_addresses @> %[1]s::jsonb OR bcc_addresses @> %[1]s::jsonb)", p))
	}
	if f.TemplateType != "" {
		where = append(where, "template_type = "+arg(f.TemplateType))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}

	q := `SELECT ` + jobColumns + ` FROM email_jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	return listJobs(ctx, r.pool, q, args...)
}

func getJob(ctx context.Context, q db.Querier, sql string, args ...any) (*Job, error) {
	j, err := scanJob(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func listJobs(ctx context.Context, q db.Querier, sql string, args ...any) ([]*Job, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j                                Job
		to, cc, bcc, from                []byte
		variables, metadata, attachments []byte
		status                           string
	)
	err := row.Scan(&j.ID, &to, &cc, &bcc, &from, &j.ReplyTo,
		&j.Subject, &j.HTML, &j.Text, &j.TemplateType, &j.Language, &variables, &metadata, &attachments,
		&status, &j.Provider, &j.ProviderMessageID, &j.Attempts, &j.MaxAttempts, &j.LastError,
		&j.ScheduledFor, &j.SentAt, &j.DeliveredAt, &j.OpenedAt, &j.ClickedAt, &j.BouncedAt, &j.ComplainedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)

	for _, c := range []struct {
		src []byte
		dst any
	}{
		{to, &j.To}, {cc, &j.CC}, {bcc, &j.BCC}, {from, &j.From},
		{variables, &j.Variables}, {metadata, &j.Metadata}, {attachments, &j.Attachments},
	} {
		if len(c.src) == 0 {
			continue
		}
		if err := json.Unmarshal(c.src, c.dst); err != nil {
			return nil, fmt.Errorf("emailjob: decode job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

// jobArgs returns the 29 positional arguments shared by insert and update.
func jobArgs(j *Job) ([]any, error) {
	encoded := make([]string, 0, 7)
	for _, v := range []any{
		nonNil(j.To), nonNil(j.CC), nonNil(j.BCC), j.From,
		nonNilMap(j.Variables), nonNilMap(j.Metadata), nonNil(j.Attachments),
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("emailjob: encode job %s: %w", j.ID, err)
		}
		encoded = append(encoded, string(b))
	}

	return []any{
		j.ID, encoded[0], encoded[1], encoded[2], encoded[3], j.ReplyTo,
		j.Subject, j.HTML, j.Text, j.TemplateType, j.Language, encoded[4], encoded[5], encoded[6],
		string(j.Status), j.Provider, j.ProviderMessageID, j.Attempts, j.MaxAttempts, j.LastError,
		j.ScheduledFor, j.SentAt, j.DeliveredAt, j.OpenedAt, j.ClickedAt, j.BouncedAt, j.ComplainedAt,
		j.CreatedAt, j.UpdatedAt,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// PostgresEventRepository stores the event log in email_events.
type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventRepository creates an event log over an open pool.
func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

func (r *PostgresEventRepository) Append(ctx context.Context, e *Event) error {
	var metadata *string
	if len(e.Metadata) > 0 {
		s := string(e.Metadata)
		metadata = &s
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_events (id, job_id, type, timestamp, ip_address, user_agent, location, link, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
		e.ID, e.JobID, string(e.Type), e.Timestamp, e.IPAddress, e.UserAgent, e.Location, e.Link, metadata, e.CreatedAt,
	)
	return err
}

func (r *PostgresEventRepository) ListByJob(ctx context.Context, jobID string) ([]*Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, type, timestamp, ip_address, user_agent, location, link, metadata, created_at
		FROM email_events WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			e   Event
			typ string
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &typ, &e.Timestamp, &e.IPAddress, &e.UserAgent,
			&e.Location, &e.Link, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		if len(raw) > 0 {
			e.Metadata = json.RawMessage(raw)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
