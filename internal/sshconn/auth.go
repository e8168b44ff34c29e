package sshconn

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// AuthOptions describe how to authenticate against a host. Resolution is
// performed once per host and cached for the pool's lifetime.
type AuthOptions struct {
	// IdentityFile is an explicit private key path; highest priority.
	IdentityFile string
	// HostIdentityFile is the identity resolved from the ssh-config
	// override set for this host.
	HostIdentityFile string
	// Password is the lowest-priority fallback.
	Password string
	// DisableAgent skips the running SSH agent even when available.
	DisableAgent bool
}

// ResolveAuthMethods builds the ordered authentication method list for a
// host: explicit identity, host-specific identity, running agent, default
// keys at standard locations, then password.
func ResolveAuthMethods(host string, opts AuthOptions) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if opts.IdentityFile != "" {
		signer, err := loadSigner(opts.IdentityFile)
		if err != nil {
			return nil, nexuserrors.NewAuthError(host, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if opts.HostIdentityFile != "" && opts.HostIdentityFile != opts.IdentityFile {
		if signer, err := loadSigner(opts.HostIdentityFile); err == nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if !opts.DisableAgent {
		if method, ok := agentAuthMethod(); ok {
			methods = append(methods, method)
		}
	}

	for _, keyPath := range defaultKeyPaths() {
		if _, err := os.Stat(keyPath); err != nil {
			continue
		}
		if signer, err := loadSigner(keyPath); err == nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}

	if len(methods) == 0 {
		return nil, nexuserrors.NewAuthError(host, fmt.Errorf("no authentication method available: provide an identity file, agent, default key, or password"))
	}

	return methods, nil
}

// loadSigner reads and parses a private key, rejecting keys readable by
// group or world.
func loadSigner(path string) (ssh.Signer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm()&0o044 != 0 {
		return nil, fmt.Errorf("private key %s has permissions %o: must not be group- or world-readable", path, info.Mode().Perm())
	}

	key, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

// agentAuthMethod connects to the running SSH agent if one is present.
func agentAuthMethod() (ssh.AuthMethod, bool) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, false
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, false
	}

	client := agent.NewClient(conn)
	return ssh.PublicKeysCallback(client.Signers), true
}

// defaultKeyPaths lists the standard private key locations to try.
func defaultKeyPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	sshDir := filepath.Join(home, ".ssh")
	return []string{
		filepath.Join(sshDir, "id_ed25519"),
		filepath.Join(sshDir, "id_ecdsa"),
		filepath.Join(sshDir, "id_rsa"),
	}
}
