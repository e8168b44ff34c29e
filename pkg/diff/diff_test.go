package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	t.Parallel()

	require.Equal(t, "no changes", None().Summary())
	require.Equal(t, "no changes", (*Diff)(nil).Summary())

	d := New("absent", "present", "create file /etc/app.conf", "set mode 0644 on /etc/app.conf")
	require.True(t, d.Changed)
	require.Equal(t, "create file /etc/app.conf; set mode 0644 on /etc/app.conf", d.Summary())
}

func TestUnified(t *testing.T) {
	t.Parallel()

	out := Unified(nil, []byte("listen 8080\nworkers 2\n"), "app.conf (absent)", "app.conf")
	require.True(t, strings.HasPrefix(out, "--- app.conf (absent)\n+++ app.conf\n"))
	require.Contains(t, out, "+listen 8080\n")
	require.Contains(t, out, "+workers 2\n")

	out = Unified([]byte("listen 80\n"), nil, "app.conf", "app.conf (desired)")
	require.Contains(t, out, "-listen 80\n")

	// A modification produces both sides of the edit.
	out = Unified([]byte("listen 80\n"), []byte("listen 8080\n"), "app.conf", "app.conf (desired)")
	require.True(t, strings.HasPrefix(out, "--- app.conf\n+++ app.conf (desired)\n"))
	require.Contains(t, out, "listen 80")
	require.Contains(t, out, "+")
}

func TestUnified_IdenticalContentIsEmpty(t *testing.T) {
	t.Parallel()

	content := []byte("listen 80\n")
	require.Empty(t, Unified(content, content, "a", "b"))
}

func TestUnified_TruncatesHugeDiffs(t *testing.T) {
	t.Parallel()

	after := strings.Repeat("line\n", maxDiffLines+100)
	out := Unified(nil, []byte(after), "empty", "generated")
	require.Contains(t, out, truncateMessage)
	require.LessOrEqual(t, len(strings.Split(out, "\n")), maxDiffLines+3)
}
