package tools

import (
	"fmt"
	"regexp"
	"strings"
)

var promptField = regexp.MustCompile(`\{([a-z_]+)\}`)

// RenderPrompt substitutes {field} placeholders from vars. Every placeholder
// in the template must have a binding; an unbound one is a construction error
// rather than a silently broken prompt.
func RenderPrompt(template string, vars map[string]string) (string, error) {
	var missing []string
	out := promptField.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		val, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt template references unbound fields: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
