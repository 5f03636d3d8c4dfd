// ABOUTME: Pure template engine filling {{var}} placeholders in response templates
// ABOUTME: Unknown placeholders are left verbatim; never errors, safe for concurrent use

package template

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// placeholderPattern matches {{name}} where name is word characters only.
var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ParseVariables returns the variable names found in {{name}} placeholders,
// ordered by first occurrence, duplicates removed.
func ParseVariables(content string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	vars := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		vars = append(vars, m[1])
	}
	return vars
}

// Fill replaces every occurrence of each recognized placeholder with its
// value. Placeholders whose name is absent from values are left verbatim and
// reported as unresolved, in first-occurrence order.
func Fill(content string, values map[string]string) (filled string, unresolved []string) {
	filled = content
	for _, name := range ParseVariables(content) {
		v, ok := values[name]
		if !ok {
			unresolved = append(unresolved, name)
			continue
		}
		filled = strings.ReplaceAll(filled, "{{"+name+"}}", v)
	}
	return filled, unresolved
}

// PreviewHTML renders template content as HTML so the dashboard can show a
// supervisor what a canned response will look like before sending it.
func PreviewHTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("rendering template preview: %w", err)
	}
	return buf.String(), nil
}
