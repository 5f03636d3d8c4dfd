// ABOUTME: Tests for template variable parsing and filling
// ABOUTME: Covers ordering, deduplication, unresolved placeholders and concurrency safety

package template

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariables(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "ordered by first occurrence",
			content: "Hi {{name}}, order {{oid}}",
			want:    []string{"name", "oid"},
		},
		{
			name:    "duplicates removed",
			content: "{{name}} and {{name}} and {{other}} and {{name}}",
			want:    []string{"name", "other"},
		},
		{
			name:    "no placeholders",
			content: "plain text",
			want:    []string{},
		},
		{
			name:    "word characters only",
			content: "{{valid_1}} {{not-valid}} {{also valid}}",
			want:    []string{"valid_1"},
		},
		{
			name:    "empty content",
			content: "",
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVariables(tt.content)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFill(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		values         map[string]string
		want           string
		wantUnresolved []string
	}{
		{
			name:           "partial values leave unknown placeholders verbatim",
			content:        "Hi {{name}}, order {{oid}}",
			values:         map[string]string{"name": "Ana"},
			want:           "Hi Ana, order {{oid}}",
			wantUnresolved: []string{"oid"},
		},
		{
			name:    "all values provided",
			content: "Hi {{name}}, order {{oid}}",
			values:  map[string]string{"name": "Ana", "oid": "A-42"},
			want:    "Hi Ana, order A-42",
		},
		{
			name:    "repeated placeholder replaced everywhere",
			content: "{{x}}{{x}}{{x}}",
			values:  map[string]string{"x": "ha"},
			want:    "hahaha",
		},
		{
			name:           "nil values map",
			content:        "Hello {{name}}",
			values:         nil,
			want:           "Hello {{name}}",
			wantUnresolved: []string{"name"},
		},
		{
			name:    "extra values ignored",
			content: "no placeholders here",
			values:  map[string]string{"name": "whoever"},
			want:    "no placeholders here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filled, unresolved := Fill(tt.content, tt.values)
			assert.Equal(t, tt.want, filled)
			assert.Equal(t, tt.wantUnresolved, unresolved)
		})
	}
}

func TestFillIsSafeForConcurrentCallers(t *testing.T) {
	content := "Hi {{name}}, your order {{oid}} ships {{when}}"
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("caller-%d", i)
			for range 100 {
				filled, unresolved := Fill(content, map[string]string{"name": name, "oid": "X"})
				assert.Equal(t, fmt.Sprintf("Hi %s, your order X ships {{when}}", name), filled)
				assert.Equal(t, []string{"when"}, unresolved)
			}
		}()
	}
	wg.Wait()
}

func TestPreviewHTML(t *testing.T) {
	html, err := PreviewHTML("Hello **{{name}}**")
	require.NoError(t, err)
	assert.Contains(t, html, "<strong>")
	assert.Contains(t, html, "{{name}}", "placeholders survive rendering")
}
