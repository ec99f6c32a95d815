package template

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

//go:embed all:defaults
var defaultsFS embed.FS

// LayoutPath is where LoadFS looks for the HTML layout.
const LayoutPath = "layouts/base.html"

// frontmatter is the YAML header of a markdown template file.
type frontmatter struct {
	Active    *bool    `yaml:"active"`
	Type      string   `yaml:"type"`
	Language  string   `yaml:"language"`
	Subject   string   `yaml:"subject"`
	Variables []string `yaml:"variables"`
}

// Defaults returns the built-in templates shipped with the binary.
func Defaults() ([]*Template, error) {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadFS reads every "*.md" file under fsys as a template.
//
// Files are laid out as "<language>/<type>.md"; frontmatter fields override
// the path. The markdown body is converted to HTML and wrapped in
// layouts/base.html when present. Placeholders pass through untouched so
// the result still renders per send.
func LoadFS(fsys fs.FS) ([]*Template, error) {
	layout, err := loadLayout(fsys)
	if err != nil {
		return nil, err
	}
	md := goldmark.New(goldmark.WithExtensions(NewButtonExtension()))

	var out []*Template
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".md" {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		tpl, err := buildTemplate(md, layout, p, content)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, tpl)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadLayout(fsys fs.FS) (*htmltemplate.Template, error) {
	content, err := fs.ReadFile(fsys, LayoutPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	layout, err := htmltemplate.New("layout").Parse(string(content))
	if err != nil {
		return nil, errors.Join(ErrInvalidTemplate, err)
	}
	return layout, nil
}

func buildTemplate(md goldmark.Markdown, layout *htmltemplate.Template, p string, content []byte) (*Template, error) {
	meta, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	dir, file := path.Split(p)
	tpl := &Template{
		Type:     Type(strings.TrimSuffix(file, ".md")),
		Language: NormalizeLanguage(path.Base(strings.TrimSuffix(dir, "/"))),
		Subject:  meta.Subject,
		IsActive: meta.Active == nil || *meta.Active,
	}
	if meta.Type != "" {
		tpl.Type = Type(meta.Type)
	}
	if meta.Language != "" {
		tpl.Language = NormalizeLanguage(meta.Language)
	}
	if tpl.Language == "" || tpl.Language == "." {
		return nil, errors.Join(ErrInvalidTemplate, errors.New("language is not set"))
	}

	masked, restore := maskPlaceholders(body)
	var html bytes.Buffer
	if err := md.Convert(masked, &html); err != nil {
		return nil, errors.Join(ErrInvalidTemplate, err)
	}
	tpl.HTMLContent = restore.Replace(html.String())
	if layout != nil {
		var wrapped bytes.Buffer
		err := layout.Execute(&wrapped, map[string]any{
			"Content":  htmltemplate.HTML(tpl.HTMLContent),
			"Subject":  tpl.Subject,
			"Language": tpl.Language,
		})
		if err != nil {
			return nil, errors.Join(ErrInvalidTemplate, err)
		}
		tpl.HTMLContent = wrapped.String()
	}
	tpl.TextContent = flattenButtons(string(body))

	tpl.Variables = meta.Variables
	if len(tpl.Variables) == 0 {
		tpl.Variables = ExtractVariables(tpl.Subject, string(body))
	}
	return tpl, nil
}

// maskPlaceholders swaps every {{ name }} for an alphanumeric token so
// goldmark neither percent-encodes it inside link destinations nor reads
// underscores in it as emphasis. The replacer puts the originals back.
func maskPlaceholders(body []byte) ([]byte, *strings.Replacer) {
	var pairs []string
	masked := placeholder.ReplaceAllFunc(body, func(m []byte) []byte {
		token := fmt.Sprintf("MAILFLOWVAR%dX", len(pairs)/2)
		pairs = append(pairs, token, string(m))
		return []byte(token)
	})
	return masked, strings.NewReplacer(pairs...)
}

// splitFrontmatter separates a leading "---" YAML block from the markdown body.
// Content without a frontmatter block is returned whole.
func splitFrontmatter(content []byte) (frontmatter, []byte, error) {
	const delim = "---"
	var meta frontmatter
	if !bytes.HasPrefix(content, []byte(delim)) {
		return meta, content, nil
	}

	rest := bytes.TrimLeft(content[len(delim):], "\r\n")
	var header []byte
	if bytes.HasPrefix(rest, []byte(delim)) {
		rest = rest[len(delim):]
	} else {
		end := bytes.Index(rest, []byte("\n"+delim))
		if end < 0 {
			return meta, nil, fmt.Errorf("%w: closing delimiter not found", ErrInvalidFrontmatter)
		}
		header = rest[:end]
		rest = rest[end+1+len(delim):]
	}
	rest = bytes.TrimPrefix(bytes.TrimPrefix(rest, []byte("\r")), []byte("\n"))

	if len(bytes.TrimSpace(header)) > 0 {
		if err := yaml.Unmarshal(header, &meta); err != nil {
			return meta, nil, fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
		}
	}
	return meta, rest, nil
}
