package template_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailflow/pkg/template"
)

func TestExtractVariables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content []string
		want    []string
	}{
		{name: "none", content: []string{"plain text"}, want: nil},
		{name: "whitespace tolerant", content: []string{"{{name}} {{ name }} {{   other\t}}"}, want: []string{"name", "other"}},
		{name: "order of first appearance", content: []string{"{{ b }} {{ a }} {{ b }}"}, want: []string{"b", "a"}},
		{name: "across parts", content: []string{"Hi {{ userName }}", "<a href=\"{{ link }}\">{{ userName }}</a>"}, want: []string{"userName", "link"}},
		{name: "ignores malformed", content: []string{"{{ }} {{ 1abc }} {name}"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, template.ExtractVariables(tt.content...))
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tpl := &template.Template{Variables: []string{"userName", "verificationLink", "supportEmail"}}

	res := template.Validate(tpl, map[string]string{"userName": "Anna"})
	require.False(t, res.Valid)
	require.Equal(t, []string{"verificationLink", "supportEmail"}, res.Missing)

	res = template.Validate(tpl, map[string]string{"userName": "Anna", "verificationLink": "x", "supportEmail": "y", "extra": "z"})
	require.True(t, res.Valid)
	require.Empty(t, res.Missing)
}

func TestRender(t *testing.T) {
	t.Parallel()

	t.Run("replaces supplied keys", func(t *testing.T) {
		t.Parallel()
		got := template.Render("Hi {{userName}}, {{ userName }}!", map[string]string{"userName": "Anna"})
		require.Equal(t, "Hi Anna, Anna!", got)
	})

	t.Run("keeps unsupplied placeholders verbatim", func(t *testing.T) {
		t.Parallel()
		got := template.Render("Hi {{ userName }}, see {{  link }}", map[string]string{"userName": "Anna"})
		require.Equal(t, "Hi Anna, see {{  link }}", got)
	})

	t.Run("values are not re-expanded", func(t *testing.T) {
		t.Parallel()
		got := template.Render("{{ a }}", map[string]string{"a": "{{ b }}", "b": "x"})
		require.Equal(t, "{{ b }}", got)
	})

	t.Run("html values are escaped", func(t *testing.T) {
		t.Parallel()
		got := template.RenderHTML("<p>{{ userName }}</p>", map[string]string{"userName": `<script>alert(1)</script>Anna & Co`})
		require.NotContains(t, got, "<script>")
		require.Contains(t, got, "Anna &amp; Co")
	})
}

func TestRender_RoundTrip(t *testing.T) {
	t.Parallel()

	contents := []string{
		"Hello {{ userName }}, confirm at {{verificationLink}} or write {{  supportEmail }}. Bye {{ userName }}",
		"no placeholders at all",
		"{{x}}{{y}}{{ z }}",
	}
	for _, content := range contents {
		vars := make(map[string]string)
		for _, name := range template.ExtractVariables(content) {
			vars[name] = "value-" + name
		}
		out := template.Render(content, vars)
		require.NotContains(t, out, "{{")
		require.NotContains(t, out, "}}")
		require.Empty(t, template.ExtractVariables(out))
	}
}

func TestTemplate_Render(t *testing.T) {
	t.Parallel()

	tpl := &template.Template{
		Type:        template.TypeWelcome,
		Language:    "en",
		Subject:     "Welcome {{ userName }}",
		HTMLContent: "<p>Hi {{ userName }}</p>",
		TextContent: "Hi {{ userName }}",
		Variables:   []string{"userName"},
	}

	out, err := tpl.Render(map[string]string{"userName": "Anna <3"})
	require.NoError(t, err)
	require.Equal(t, "Welcome Anna <3", out.Subject)
	require.Equal(t, "Hi Anna <3", out.Text)
	require.Equal(t, "<p>Hi Anna &lt;3</p>", out.HTML)

	_, err = tpl.Render(nil)
	require.ErrorIs(t, err, template.ErrMissingVariables)

	var missing *template.MissingVariablesError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"userName"}, missing.Missing)
	require.True(t, strings.HasPrefix(err.Error(), "template welcome/en: missing variables"))
}

func TestCheckConsistency(t *testing.T) {
	t.Parallel()

	tpl := &template.Template{
		Subject:     "{{ a }}",
		HTMLContent: "{{ b }}",
		Variables:   []string{"a", "c"},
	}
	c := template.CheckConsistency(tpl)
	require.False(t, c.OK())
	require.Equal(t, []string{"b"}, c.Undeclared)
	require.Equal(t, []string{"c"}, c.Unused)

	tpl.Variables = []string{"a", "b"}
	require.True(t, template.CheckConsistency(tpl).OK())
}

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "en", template.NormalizeLanguage("en"))
	require.Equal(t, "en", template.NormalizeLanguage("EN_us"))
	require.Equal(t, "pt", template.NormalizeLanguage("pt-BR"))
	require.Equal(t, "", template.NormalizeLanguage("  "))
}
