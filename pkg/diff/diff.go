package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	maxDiffLines    = 10000
	truncateMessage = "... (diff truncated, exceeds 10,000 lines) ..."
)

// Diff describes a resource's pending transformation. Detail optionally
// carries a unified-diff rendering of the content change.
type Diff struct {
	Changed bool     `json:"changed"`
	Before  string   `json:"before,omitempty"`
	After   string   `json:"after,omitempty"`
	Changes []string `json:"changes,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

// None returns a zero-change diff.
func None() *Diff {
	return &Diff{Changed: false}
}

// New builds a diff from before/after states and the change lines.
func New(before, after string, changes ...string) *Diff {
	return &Diff{Changed: len(changes) > 0, Before: before, After: after, Changes: changes}
}

// Summary renders the change lines as a single human-readable string.
func (d *Diff) Summary() string {
	if d == nil || !d.Changed {
		return "no changes"
	}
	return strings.Join(d.Changes, "; ")
}

// Unified generates a unified-diff rendering of two byte contents.
// Returns empty string if the contents are identical. Output beyond
// maxDiffLines is truncated with a marker.
func Unified(before, after []byte, beforeLabel, afterLabel string) string {
	if bytes.Equal(before, after) {
		return ""
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(before), string(after), false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n", beforeLabel)
	fmt.Fprintf(&buf, "+++ %s\n", afterLabel)

	for _, d := range diffs {
		text := d.Text
		lines := strings.Split(text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" && strings.HasSuffix(text, "\n") {
			lines = lines[:len(lines)-1]
		}

		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			prefix = " "
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}

		for _, line := range lines {
			buf.WriteString(prefix)
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}

	result := buf.String()
	lines := strings.Split(result, "\n")
	if len(lines) > maxDiffLines {
		return strings.Join(lines[:maxDiffLines], "\n") + "\n" + truncateMessage + "\n"
	}

	return result
}
