package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// ErrTemplate indicates a placeholder the configuration cannot satisfy. It is
// raised before submission; a template never renders partially.
var ErrTemplate = errors.New("template error")

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Render substitutes every {key} placeholder in text with its value. Rendering
// is pure: the same inputs always produce byte-identical output. A placeholder
// with no corresponding value fails with ErrTemplate naming every missing key.
func Render(text string, values map[string]string) (string, error) {
	missing := map[string]struct{}{}
	rendered := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := values[key]
		if !ok {
			missing[key] = struct{}{}
			return match
		}
		return value
	})

	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for key := range missing {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("%w: no value for placeholder(s) %s", ErrTemplate, strings.Join(keys, ", "))
	}
	return rendered, nil
}

// RenderFile reads a template file and renders it against values.
func RenderFile(path string, values map[string]string) (string, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read template %s: %w", ErrTemplate, path, err)
	}
	return Render(string(text), values)
}

// Placeholders returns the sorted set of placeholder keys a template references.
func Placeholders(text string) []string {
	seen := map[string]struct{}{}
	for _, match := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		seen[match[1]] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
