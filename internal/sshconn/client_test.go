package sshconn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildShellCommand(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/bin/sh -c 'uptime'", buildShellCommand("uptime", ExecOptions{}))

	got := buildShellCommand("make deploy", ExecOptions{
		Cwd: "/srv/app",
		Env: map[string]string{"B": "two", "A": "one"},
	})
	// Env exports come out sorted so the wire command is deterministic.
	require.Equal(t, `/bin/sh -c 'export A='\''one'\''; export B='\''two'\''; cd '\''/srv/app'\'' && make deploy'`, got)
}

func TestBuildSudoCommand(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sudo -n /bin/sh -c 'systemctl restart nginx'",
		buildSudoCommand("systemctl restart nginx", ExecOptions{}))

	require.Equal(t, "sudo -n -u postgres /bin/sh -c 'psql -c select'",
		buildSudoCommand("psql -c select", ExecOptions{User: "postgres"}))
}

func TestShellQuote(t *testing.T) {
	t.Parallel()

	require.Equal(t, "'plain'", shellQuote("plain"))
	require.Equal(t, `'it'\''s'`, shellQuote("it's"))
	require.Equal(t, "'a b;c'", shellQuote("a b;c"))
}
