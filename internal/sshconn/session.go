package sshconn

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrSessionBroken marks a session-level failure (connection dropped, auth
// lost). A checkout callback wrapping its error with this sentinel tells
// the pool to destroy the session instead of returning it.
var ErrSessionBroken = errors.New("session broken")

// ExecOptions tune a single command execution.
type ExecOptions struct {
	Timeout time.Duration
	Cwd     string
	Env     map[string]string
	// User selects the sudo target account for ExecSudo.
	User string
}

// ExecResult is the outcome shape shared by local and remote execution.
type ExecResult struct {
	Output   string
	ExitCode int
}

// Session is the per-connection contract exposed to resource providers and
// the task runner. Implementations exist for remote SSH sessions and for
// the local-execution shortcut.
type Session interface {
	// Exec runs a shell command and returns its combined output.
	Exec(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error)

	// ExecSudo wraps the command with non-interactive privilege escalation.
	// It fails fast when the remote side would prompt for a password.
	ExecSudo(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error)

	// ExecStreaming delivers output chunks as they arrive. The stream is
	// finite and not restartable.
	ExecStreaming(ctx context.Context, cmd string, onChunk func([]byte), opts ExecOptions) (ExecResult, error)

	// Upload transfers a local file to the session's host, byte-faithful.
	Upload(ctx context.Context, localPath, remotePath string) error

	// UploadBytes writes a byte blob to a remote path.
	UploadBytes(ctx context.Context, data []byte, remotePath string) error

	// Download transfers a remote file to the local machine, byte-faithful.
	Download(ctx context.Context, remotePath, localPath string) error

	// Stat returns file metadata for a path on the session's host.
	Stat(ctx context.Context, path string) (fs.FileInfo, error)

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(ctx context.Context, path string) error

	// Remove deletes a file on the session's host.
	Remove(ctx context.Context, path string) error

	// Alive reports whether the underlying transport still responds.
	Alive() bool

	// Close terminates the session.
	Close() error
}

// Broken wraps err so the pool evicts the session it came from.
func Broken(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrSessionBroken, err)
}
