// Package prompt wraps user input in a reusable prompt template.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// Placeholder marks where user input goes in a template.
const Placeholder = "{user_input}"

// DefaultTemplate frames a short theme as a banner design brief.
const DefaultTemplate = `# ROLE
You are a professional graphic designer.

# THEME
{user_input}

# TASK
Please generate a beautiful banner.
`

// Template renders user input into a full prompt.
type Template struct {
	text string
}

// New creates a template. The text must contain Placeholder.
func New(text string) (*Template, error) {
	if !strings.Contains(text, Placeholder) {
		return nil, optimization.ConfigurationError("prompt", fmt.Sprintf("template must contain %s", Placeholder))
	}
	return &Template{text: text}, nil
}

// Default returns the built-in template.
func Default() *Template {
	return &Template{text: DefaultTemplate}
}

// Load reads a template file. An empty path selects the built-in template.
func Load(path string) (*Template, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, optimization.WrapErrorf(optimization.KindConfiguration, err, "failed to read prompt template %s", path).
			WithComponent("prompt")
	}
	return New(string(data))
}

// Format substitutes input for every placeholder.
func (t *Template) Format(input string) string {
	return strings.ReplaceAll(t.text, Placeholder, strings.TrimSpace(input))
}

// String returns the raw template text.
func (t *Template) String() string { return t.text }
