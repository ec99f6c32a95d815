package template

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps templates in the email_templates table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const templateColumns = `type, language, subject, html_content, text_content, variables, is_active, created_at, updated_at`

func (s *PostgresStore) FindActive(ctx context.Context, typ Type, language string) (*Template, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM email_templates WHERE type = $1 AND language = $2 AND is_active`,
		string(typ), NormalizeLanguage(language),
	)
	tpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	return tpl, err
}

func (s *PostgresStore) Save(ctx context.Context, tpl *Template) error {
	if err := checkIdentity(tpl); err != nil {
		return err
	}
	vars := tpl.Variables
	if vars == nil {
		vars = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (type, language) DO UPDATE SET
			subject = EXCLUDED.subject,
			html_content = EXCLUDED.html_content,
			text_content = EXCLUDED.text_content,
			variables = EXCLUDED.variables,
			is_active = EXCLUDED.is_active,
			updated_at = now()`,
		string(tpl.Type), NormalizeLanguage(tpl.Language), tpl.Subject, tpl.HTMLContent, tpl.TextContent, vars, tpl.IsActive,
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]*Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+templateColumns+` FROM email_templates ORDER BY type, language`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var (
		tpl Template
		typ string
	)
	err := row.Scan(&typ, &tpl.Language, &tpl.Subject, &tpl.HTMLContent, &tpl.TextContent,
		&tpl.Variables, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tpl.Type = Type(typ)
	return &tpl, nil
}
