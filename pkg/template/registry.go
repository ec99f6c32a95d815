package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/mailflow/pkg/logger"
)

// Registry is the read path over a Store. It normalizes languages and
// applies the default language when none is given.
type Registry struct {
	store           Store
	log             *slog.Logger
	defaultLanguage string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultLanguage sets the language used when a lookup has none. Default "en".
func WithDefaultLanguage(lang string) RegistryOption {
	return func(r *Registry) {
		if l := NormalizeLanguage(lang); l != "" {
			r.defaultLanguage = l
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry creates a Registry over store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{store: store, log: logger.NewNope(), defaultLanguage: "en"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultLanguage returns the language used for empty lookups.
func (r *Registry) DefaultLanguage() string { return r.defaultLanguage }

// Get returns the unique active template for (typ, language).
// The error wraps ErrTemplateNotFound when there is none.
func (r *Registry) Get(ctx context.Context, typ Type, language string) (*Template, error) {
	lang := NormalizeLanguage(language)
	if lang == "" {
		lang = r.defaultLanguage
	}

	tpl, err := r.store.FindActive(ctx, typ, lang)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, typ, lang)
		}
		return nil, err
	}

	if c := CheckConsistency(tpl); !c.OK() {
		r.log.WarnContext(ctx, "template variables do not match content",
			slog.String("type", string(typ)),
			slog.String("language", lang),
			slog.Any("undeclared", c.Undeclared),
			slog.Any("unused", c.Unused),
		)
	}
	return tpl, nil
}

// Seed saves templates into the store, typically the embedded defaults at startup.
// Existing templates with the same (type, language) are overwritten only when
// overwrite is set.
func (r *Registry) Seed(ctx context.Context, templates []*Template, overwrite bool) error {
	existing := make(map[string]struct{})
	if !overwrite {
		list, err := r.store.List(ctx)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		for _, tpl := range list {
			existing[Key(tpl.Type, tpl.Language)] = struct{}{}
		}
	}

	for _, tpl := range templates {
		if _, ok := existing[Key(tpl.Type, tpl.Language)]; ok {
			continue
		}
		if err := r.store.Save(ctx, tpl); err != nil {
			return fmt.Errorf("seed %s/%s: %w", tpl.Type, tpl.Language, err)
		}
	}
	return nil
}
