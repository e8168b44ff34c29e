package sshconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/telemetry"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

const defaultConnectTimeout = 10 * time.Second

// Dialer establishes sessions for hosts. The pool uses it for lazy
// session creation; tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, host config.Host) (Session, error)
}

// SSHDialer dials remote hosts over SSH, applying ssh-config overrides
// and the standard authentication resolution order.
type SSHDialer struct {
	Auth           AuthOptions
	Overrides      *OverrideSet
	ConnectTimeout time.Duration
	StrictHostKey  bool
	KnownHostsFile string
	Events         telemetry.Emitter
}

// Dial implements Dialer.
func (d *SSHDialer) Dial(ctx context.Context, host config.Host) (Session, error) {
	target, auth, timeout, proxyJump := d.resolve(host)

	methods, err := ResolveAuthMethods(host.Name, auth)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := d.hostKeyCallback()
	if err != nil {
		return nil, nexuserrors.NewConnectionError(host.Name, err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	start := time.Now()
	d.Events.Emit(telemetry.SSHConnectStart, 0, map[string]any{"host": host.Name})

	client, err := dialMaybeProxied(ctx, target.Address(), proxyJump, clientCfg, timeout)
	if err != nil {
		d.Events.Emit(telemetry.SSHConnectStop, time.Since(start), map[string]any{"host": host.Name, "error": err.Error()})
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, nexuserrors.NewAuthError(host.Name, err)
		}
		return nil, nexuserrors.NewConnectionError(host.Name, err)
	}

	d.Events.Emit(telemetry.SSHConnectStop, time.Since(start), map[string]any{"host": host.Name})
	return &remoteSession{host: host, client: client}, nil
}

// resolve applies the ssh-config override set on top of the host entry.
func (d *SSHDialer) resolve(host config.Host) (config.Host, AuthOptions, time.Duration, string) {
	auth := d.Auth
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	var proxyJump string
	if d.Overrides != nil {
		override := d.Overrides.Resolve(host.Name)
		if override.Hostname != "" {
			host.Hostname = override.Hostname
		}
		if override.User != "" && host.User == "" {
			host.User = override.User
		}
		if override.Port != 0 && host.Port == config.DefaultSSHPort {
			host.Port = override.Port
		}
		if override.IdentityFile != "" {
			auth.HostIdentityFile = override.IdentityFile
		}
		if override.ConnectTimeout > 0 {
			timeout = override.ConnectTimeout
		}
		proxyJump = override.ProxyJump
	}

	return host, auth, timeout, proxyJump
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !d.StrictHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}

	knownHostsFile := d.KnownHostsFile
	if knownHostsFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		knownHostsFile = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(knownHostsFile)
}

// dialMaybeProxied connects directly or tunnels through a proxy-jump host.
func dialMaybeProxied(ctx context.Context, address, proxyJump string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	if proxyJump == "" {
		return dialContext(ctx, address, cfg)
	}

	jump, err := config.ParseHostSpec(proxyJump)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy jump %q: %w", proxyJump, err)
	}

	jumpCfg := &ssh.ClientConfig{
		User:            jump.User,
		Auth:            cfg.Auth,
		HostKeyCallback: cfg.HostKeyCallback,
		Timeout:         timeout,
	}
	if jumpCfg.User == "" {
		jumpCfg.User = cfg.User
	}

	bastion, err := dialContext(ctx, jump.Address(), jumpCfg)
	if err != nil {
		return nil, fmt.Errorf("proxy jump %s: %w", jump.Hostname, err)
	}

	tunnel, err := bastion.Dial("tcp", address)
	if err != nil {
		bastion.Close()
		return nil, fmt.Errorf("proxy jump tunnel to %s: %w", address, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(tunnel, address, cfg)
	if err != nil {
		tunnel.Close()
		bastion.Close()
		return nil, err
	}

	// The bastion connection stays open for the tunnel's lifetime and is
	// torn down with the target connection.
	return ssh.NewClient(conn, chans, reqs), nil
}

func dialContext(ctx context.Context, address string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	type dialed struct {
		client *ssh.Client
		err    error
	}

	ch := make(chan dialed, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, cfg)
		ch <- dialed{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.client != nil {
				d.client.Close()
			}
		}()
		return nil, ctx.Err()
	case d := <-ch:
		return d.client, d.err
	}
}

// remoteSession implements Session over one live SSH connection. Each Exec
// opens a fresh ssh.Session since they are single-use; the SFTP subsystem
// client is created lazily and shared.
type remoteSession struct {
	host   config.Host
	client *ssh.Client

	sftpMu   sync.Mutex
	sftpOnce *sftp.Client
}

func (s *remoteSession) Exec(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error) {
	return s.run(ctx, buildShellCommand(cmd, opts), nil, opts)
}

func (s *remoteSession) ExecSudo(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error) {
	return s.run(ctx, buildSudoCommand(cmd, opts), nil, opts)
}

func (s *remoteSession) ExecStreaming(ctx context.Context, cmd string, onChunk func([]byte), opts ExecOptions) (ExecResult, error) {
	return s.run(ctx, buildShellCommand(cmd, opts), onChunk, opts)
}

func (s *remoteSession) run(ctx context.Context, cmd string, onChunk func([]byte), opts ExecOptions) (ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	session, err := s.client.NewSession()
	if err != nil {
		return ExecResult{}, Broken(err)
	}
	defer session.Close()

	var buf bytes.Buffer
	var sink io.Writer = &buf
	if onChunk != nil {
		sink = io.MultiWriter(&buf, chunkWriter{fn: onChunk})
	}
	session.Stdout = sink
	session.Stderr = sink

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		// Best-effort abort: signal then tear the channel down.
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		if ctx.Err() == context.DeadlineExceeded {
			return ExecResult{Output: buf.String(), ExitCode: -1}, nexuserrors.NewTimeoutError(cmd)
		}
		return ExecResult{Output: buf.String(), ExitCode: -1}, nexuserrors.NewCancelledError(cmd)
	case err = <-done:
	}

	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			code := exitErr.ExitStatus()
			return ExecResult{Output: buf.String(), ExitCode: code},
				nexuserrors.NewCommandError(cmd, code, buf.String())
		}
		return ExecResult{Output: buf.String(), ExitCode: -1}, Broken(err)
	}

	return ExecResult{Output: buf.String(), ExitCode: 0}, nil
}

func (s *remoteSession) sftp() (*sftp.Client, error) {
	s.sftpMu.Lock()
	defer s.sftpMu.Unlock()

	if s.sftpOnce != nil {
		return s.sftpOnce, nil
	}

	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, Broken(err)
	}
	s.sftpOnce = client
	return client, nil
}

func (s *remoteSession) Upload(ctx context.Context, localPath, remotePath string) error {
	local, err := os.Open(localPath) //nolint:gosec
	if err != nil {
		return err
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return err
	}

	client, err := s.sftp()
	if err != nil {
		return err
	}

	if err := client.MkdirAll(filepath.Dir(remotePath)); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	remote, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		return fmt.Errorf("copy to remote: %w", err)
	}

	return client.Chmod(remotePath, info.Mode())
}

func (s *remoteSession) UploadBytes(ctx context.Context, data []byte, remotePath string) error {
	client, err := s.sftp()
	if err != nil {
		return err
	}

	if err := client.MkdirAll(filepath.Dir(remotePath)); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	remote, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	defer remote.Close()

	_, err = remote.Write(data)
	return err
}

func (s *remoteSession) Download(ctx context.Context, remotePath, localPath string) error {
	client, err := s.sftp()
	if err != nil {
		return err
	}

	remote, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote file: %w", err)
	}
	defer remote.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}

	local, err := os.Create(localPath) //nolint:gosec
	if err != nil {
		return err
	}
	defer local.Close()

	_, err = io.Copy(local, remote)
	return err
}

func (s *remoteSession) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	client, err := s.sftp()
	if err != nil {
		return nil, err
	}
	return client.Stat(path)
}

func (s *remoteSession) MkdirAll(ctx context.Context, path string) error {
	client, err := s.sftp()
	if err != nil {
		return err
	}
	return client.MkdirAll(path)
}

func (s *remoteSession) Remove(ctx context.Context, path string) error {
	client, err := s.sftp()
	if err != nil {
		return err
	}
	return client.Remove(path)
}

func (s *remoteSession) Alive() bool {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (s *remoteSession) Close() error {
	s.sftpMu.Lock()
	if s.sftpOnce != nil {
		_ = s.sftpOnce.Close()
		s.sftpOnce = nil
	}
	s.sftpMu.Unlock()
	return s.client.Close()
}

type chunkWriter struct {
	fn func([]byte)
}

func (w chunkWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.fn(chunk)
	return len(p), nil
}

// buildShellCommand wraps a command for remote execution with optional
// working directory and environment.
func buildShellCommand(cmd string, opts ExecOptions) string {
	keys := make([]string, 0, len(opts.Env))
	for key := range opts.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(fmt.Sprintf("export %s=%s; ", key, shellQuote(opts.Env[key])))
	}
	if opts.Cwd != "" {
		b.WriteString(fmt.Sprintf("cd %s && ", shellQuote(opts.Cwd)))
	}
	b.WriteString(cmd)
	return fmt.Sprintf("/bin/sh -c %s", shellQuote(b.String()))
}

// buildSudoCommand wraps a command with non-interactive sudo. The -n flag
// makes sudo fail fast instead of prompting for a password.
func buildSudoCommand(cmd string, opts ExecOptions) string {
	sudo := "sudo -n"
	if opts.User != "" {
		sudo = fmt.Sprintf("sudo -n -u %s", opts.User)
	}
	inner := buildShellCommand(cmd, ExecOptions{Cwd: opts.Cwd, Env: opts.Env})
	return fmt.Sprintf("%s %s", sudo, inner)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
