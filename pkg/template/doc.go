// Package template stores localized email templates and renders them
// against caller-supplied variables.
//
// Placeholders use the {{ name }} form with optional inner whitespace.
// Rendering replaces supplied keys only; a placeholder without a value is
// left verbatim rather than silently removed. Callers validate first:
//
//	tpl, err := registry.Get(ctx, template.TypeWelcome, "en")
//	if err != nil {
//		return err // wraps template.ErrTemplateNotFound
//	}
//	out, err := tpl.Render(map[string]string{"userName": "Anna"})
//	var missing *template.MissingVariablesError
//	if errors.As(err, &missing) {
//		log.Println("missing:", missing.Missing)
//	}
//
// Templates are authored as markdown with YAML frontmatter and loaded with
// LoadFS. Defaults returns the set embedded in the binary. Stores exist for
// memory, Postgres and a cache-fronted wrapper over either.
package template
