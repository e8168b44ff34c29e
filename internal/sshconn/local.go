package sshconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// LocalSession runs commands in a local subshell with the same outcome
// shape as a remote session. Used when a task targets the reserved local
// value; the pool is bypassed entirely.
type LocalSession struct{}

// NewLocalSession returns the local-execution shortcut session.
func NewLocalSession() *LocalSession {
	return &LocalSession{}
}

var _ Session = (*LocalSession)(nil)

func (s *LocalSession) Exec(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error) {
	return s.run(ctx, cmd, nil, opts, false)
}

func (s *LocalSession) ExecSudo(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error) {
	return s.run(ctx, cmd, nil, opts, true)
}

func (s *LocalSession) ExecStreaming(ctx context.Context, cmd string, onChunk func([]byte), opts ExecOptions) (ExecResult, error) {
	return s.run(ctx, cmd, onChunk, opts, false)
}

func (s *LocalSession) run(ctx context.Context, cmd string, onChunk func([]byte), opts ExecOptions, sudo bool) (ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	shell, err := lookupShell()
	if err != nil {
		return ExecResult{}, err
	}

	var command *exec.Cmd
	if sudo {
		args := []string{"-n"}
		if opts.User != "" {
			args = append(args, "-u", opts.User)
		}
		args = append(args, shell, "-c", cmd)
		command = exec.CommandContext(ctx, "sudo", args...)
	} else {
		command = exec.CommandContext(ctx, shell, "-c", cmd)
	}

	command.Env = buildLocalEnv(opts.Env)
	if opts.Cwd != "" {
		command.Dir = opts.Cwd
	}

	var buf bytes.Buffer
	var sink io.Writer = &buf
	if onChunk != nil {
		sink = io.MultiWriter(&buf, chunkWriter{fn: onChunk})
	}
	command.Stdout = sink
	command.Stderr = sink

	err = command.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return ExecResult{Output: buf.String(), ExitCode: -1}, nexuserrors.NewTimeoutError(cmd)
		}
		return ExecResult{Output: buf.String(), ExitCode: -1}, nexuserrors.NewCancelledError(cmd)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			return ExecResult{Output: buf.String(), ExitCode: code},
				nexuserrors.NewCommandError(cmd, code, buf.String())
		}
		return ExecResult{Output: buf.String(), ExitCode: -1}, err
	}

	return ExecResult{Output: buf.String(), ExitCode: 0}, nil
}

func (s *LocalSession) Upload(ctx context.Context, localPath, remotePath string) error {
	return copyLocalFile(localPath, remotePath)
}

func (s *LocalSession) UploadBytes(ctx context.Context, data []byte, remotePath string) error {
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(remotePath, data, 0o644)
}

func (s *LocalSession) Download(ctx context.Context, remotePath, localPath string) error {
	return copyLocalFile(remotePath, localPath)
}

func (s *LocalSession) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (s *LocalSession) MkdirAll(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

func (s *LocalSession) Remove(ctx context.Context, path string) error {
	return os.Remove(path)
}

func (s *LocalSession) Alive() bool { return true }

func (s *LocalSession) Close() error { return nil }

func lookupShell() (string, error) {
	if path, err := exec.LookPath("bash"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("sh"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no suitable shell found")
}

func buildLocalEnv(custom map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(custom))
	for key := range custom {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, fmt.Sprintf("%s=%s", key, custom[key]))
	}
	return env
}

func copyLocalFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode()) //nolint:gosec
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
