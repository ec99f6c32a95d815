package template

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateNotFound indicates no active template exists for (type, language).
	ErrTemplateNotFound = errors.New("template: not found")

	// ErrInvalidTemplate indicates a template could not be stored or loaded.
	ErrInvalidTemplate = errors.New("template: invalid template")

	// ErrInvalidFrontmatter indicates invalid YAML frontmatter in a template file.
	ErrInvalidFrontmatter = errors.New("template: invalid frontmatter")

	// ErrMissingVariables is matched by every *MissingVariablesError.
	ErrMissingVariables = errors.New("template: missing variables")
)

// MissingVariablesError lists required variables the caller did not supply.
type MissingVariablesError struct {
	Type     Type
	Language string
	Missing  []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("template %s/%s: missing variables: %s", e.Type, e.Language, strings.Join(e.Missing, ", "))
}

func (e *MissingVariablesError) Is(target error) bool {
	return target == ErrMissingVariables
}
