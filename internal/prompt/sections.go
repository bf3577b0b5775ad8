// Package prompt assembles the per-turn system prompt from persona,
// activated knowledge, task snapshots, and budgeted memory.
package prompt

import "strings"

// Section is one named block of the assembled prompt.
type Section struct {
	Title string
	Body  string
}

// Sections is the ordered list of prompt blocks. The prompt stays a
// structured value until the very end; empty sections simply never render,
// which keeps the omission rule trivial to test.
type Sections []Section

// Add appends a section. Sections with an empty body are dropped here
// rather than filtered at render time.
func (s *Sections) Add(title, body string) {
	body = strings.TrimRight(body, "\n")
	if body == "" {
		return
	}
	*s = append(*s, Section{Title: title, Body: body})
}

// Render serializes the sections into the final prompt string.
func (s Sections) Render() string {
	parts := make([]string, 0, len(s))
	for _, section := range s {
		parts = append(parts, "【"+section.Title+"】\n"+section.Body)
	}
	return strings.Join(parts, "\n\n")
}
