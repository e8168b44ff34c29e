package errors

import (
	"fmt"
	"strings"
)

// ParseError represents a YAML parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures configuration validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExecutionError represents a runtime failure while executing a task.
type ExecutionError struct {
	Task string
	Err  error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(task string, err error) error {
	return &ExecutionError{Task: task, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Task != "" {
		return fmt.Sprintf("execution error on task %s: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("execution error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UnknownTasksError reports run targets that do not exist in the config.
type UnknownTasksError struct {
	Tasks []string
}

// NewUnknownTasksError constructs an UnknownTasksError.
func NewUnknownTasksError(tasks []string) error {
	return &UnknownTasksError{Tasks: tasks}
}

func (e *UnknownTasksError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unknown tasks: %s", strings.Join(e.Tasks, ", "))
}

// CycleError reports a dependency cycle with the witnessing path.
type CycleError struct {
	Path []string
}

// NewCycleError constructs a CycleError from the vertex path v0 -> ... -> v0.
func NewCycleError(path []string) error {
	return &CycleError{Path: path}
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// ConnectionError indicates an SSH dial failure for a host.
type ConnectionError struct {
	Host string
	Err  error
}

// NewConnectionError constructs a ConnectionError.
func NewConnectionError(host string, err error) error {
	return &ConnectionError{Host: host, Err: err}
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("connection failed: %s: %v", e.Host, e.Err)
}

// Unwrap exposes the underlying error.
func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AuthError indicates the remote host rejected authentication.
type AuthError struct {
	Host string
	Err  error
}

// NewAuthError constructs an AuthError.
func NewAuthError(host string, err error) error {
	return &AuthError{Host: host, Err: err}
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("authentication failed: %s: %v", e.Host, e.Err)
}

// Unwrap exposes the underlying error.
func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TimeoutError reports a command or task exceeding its wall-clock budget.
type TimeoutError struct {
	Subject string
}

// NewTimeoutError constructs a TimeoutError for a command or task name.
func NewTimeoutError(subject string) error {
	return &TimeoutError{Subject: subject}
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("timeout: %s", e.Subject)
}

// CommandError captures a non-zero exit from a shell command.
type CommandError struct {
	Cmd      string
	ExitCode int
	Output   string
}

// NewCommandError constructs a CommandError.
func NewCommandError(cmd string, exitCode int, output string) error {
	return &CommandError{Cmd: cmd, ExitCode: exitCode, Output: output}
}

func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("command %q exited %d", e.Cmd, e.ExitCode)
}

// UnsupportedOSError indicates no provider exists for the host's OS family.
type UnsupportedOSError struct {
	Family string
}

// NewUnsupportedOSError constructs an UnsupportedOSError.
func NewUnsupportedOSError(family string) error {
	return &UnsupportedOSError{Family: family}
}

func (e *UnsupportedOSError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unsupported OS: %s", e.Family)
}

// CheckError wraps a provider check failure.
type CheckError struct {
	Reason string
	Err    error
}

// NewCheckError constructs a CheckError.
func NewCheckError(reason string, err error) error {
	return &CheckError{Reason: reason, Err: err}
}

func (e *CheckError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("check failed: %s", e.Reason)
}

// Unwrap exposes the underlying error.
func (e *CheckError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ApplyError wraps a provider apply failure.
type ApplyError struct {
	Reason string
	Err    error
}

// NewApplyError constructs an ApplyError.
func NewApplyError(reason string, err error) error {
	return &ApplyError{Reason: reason, Err: err}
}

func (e *ApplyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("apply failed: %s", e.Reason)
}

// Unwrap exposes the underlying error.
func (e *ApplyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CancelledError marks work cut short by external cancellation.
type CancelledError struct {
	Subject string
}

// NewCancelledError constructs a CancelledError.
func NewCancelledError(subject string) error {
	return &CancelledError{Subject: subject}
}

func (e *CancelledError) Error() string {
	if e == nil {
		return ""
	}
	if e.Subject != "" {
		return fmt.Sprintf("cancelled: %s", e.Subject)
	}
	return "cancelled"
}
