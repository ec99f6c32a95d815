package template

import (
	"strings"

	"golang.org/x/text/language"
)

// NormalizeLanguage reduces a tag such as "EN_us" or "pt-BR" to its base
// language ("en", "pt"). Unparseable input is lowercased and returned as is.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}
