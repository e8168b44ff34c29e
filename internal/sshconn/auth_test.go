package sshconn

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

func writeTestKey(t *testing.T, perm os.FileMode) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), perm))
	return path
}

func TestLoadSigner(t *testing.T) {
	t.Parallel()

	signer, err := loadSigner(writeTestKey(t, 0o600))
	require.NoError(t, err)
	require.Equal(t, "ssh-ed25519", signer.PublicKey().Type())
}

func TestLoadSigner_RejectsLooseKeyPermissions(t *testing.T) {
	t.Parallel()

	_, err := loadSigner(writeTestKey(t, 0o644))
	require.Error(t, err)
	require.Contains(t, err.Error(), "group- or world-readable")
}

func TestResolveAuthMethods_ExplicitIdentity(t *testing.T) {
	t.Parallel()

	methods, err := ResolveAuthMethods("web1", AuthOptions{
		IdentityFile: writeTestKey(t, 0o600),
		DisableAgent: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, methods)
}

func TestResolveAuthMethods_BadIdentityIsAuthError(t *testing.T) {
	t.Parallel()

	_, err := ResolveAuthMethods("web1", AuthOptions{
		IdentityFile: filepath.Join(t.TempDir(), "missing"),
		DisableAgent: true,
	})
	var authErr *nexuserrors.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestResolveAuthMethods_NoMethodAvailable(t *testing.T) {
	// An empty home and no agent leaves nothing to authenticate with.
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	_, err := ResolveAuthMethods("web1", AuthOptions{DisableAgent: true})
	var authErr *nexuserrors.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestResolveAuthMethods_PasswordFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	methods, err := ResolveAuthMethods("web1", AuthOptions{
		Password:     "hunter2",
		DisableAgent: true,
	})
	require.NoError(t, err)
	require.Len(t, methods, 1)
}
