package preflight

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

type stubSession struct {
	sudoErr error
}

func (s *stubSession) Exec(context.Context, string, sshconn.ExecOptions) (sshconn.ExecResult, error) {
	return sshconn.ExecResult{}, nil
}

func (s *stubSession) ExecSudo(context.Context, string, sshconn.ExecOptions) (sshconn.ExecResult, error) {
	if s.sudoErr != nil {
		return sshconn.ExecResult{ExitCode: 1}, s.sudoErr
	}
	return sshconn.ExecResult{}, nil
}

func (s *stubSession) ExecStreaming(context.Context, string, func([]byte), sshconn.ExecOptions) (sshconn.ExecResult, error) {
	return sshconn.ExecResult{}, nil
}

func (s *stubSession) Upload(context.Context, string, string) error      { return nil }
func (s *stubSession) UploadBytes(context.Context, []byte, string) error { return nil }
func (s *stubSession) Download(context.Context, string, string) error    { return nil }
func (s *stubSession) Stat(context.Context, string) (fs.FileInfo, error) {
	return nil, fs.ErrNotExist
}
func (s *stubSession) MkdirAll(context.Context, string) error { return nil }
func (s *stubSession) Remove(context.Context, string) error   { return nil }
func (s *stubSession) Alive() bool                            { return true }
func (s *stubSession) Close() error                           { return nil }

type stubDialer struct {
	dialErr error
	sudoErr error
}

func (d *stubDialer) Dial(_ context.Context, host config.Host) (sshconn.Session, error) {
	if d.dialErr != nil {
		return nil, nexuserrors.NewConnectionError(host.Name, d.dialErr)
	}
	return &stubSession{sudoErr: d.sudoErr}, nil
}

// listenLocal opens a throwaway TCP listener so the hosts check has a
// reachable address.
func listenLocal(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func validConfig(port int) *config.Config {
	return &config.Config{
		Hosts: map[string]config.Host{
			"web1": {Name: "web1", Hostname: "127.0.0.1", Port: port},
		},
		Tasks: map[string]config.Task{
			"deploy": {
				Name:     "deploy",
				On:       "web1",
				Strategy: config.StrategyParallel,
				Steps: []config.Step{
					{Type: config.StepCommand, Command: &config.CommandStep{Cmd: "deploy.sh"}},
				},
			},
		},
	}
}

func newPool(t *testing.T, dialer sshconn.Dialer) *sshconn.Pool {
	t.Helper()
	pool := sshconn.NewPool(dialer, sshconn.PoolOptions{Capacity: 5})
	t.Cleanup(pool.CloseAll)
	return pool
}

func statusByName(results []CheckResult) map[string]string {
	byName := make(map[string]string, len(results))
	for _, result := range results {
		byName[result.Name] = result.Status
	}
	return byName
}

func TestRun_AllChecksPass(t *testing.T) {
	t.Parallel()

	port := listenLocal(t)
	runner := NewRunner(validConfig(port), newPool(t, &stubDialer{}), Options{})

	results := runner.Run(context.Background())
	require.Len(t, results, 5)
	require.True(t, AllPassed(results))

	byName := statusByName(results)
	for _, name := range []string{CheckConfig, CheckTasks, CheckHosts, CheckSSH, CheckSudo} {
		require.Equal(t, StatusOK, byName[name], name)
	}
}

func TestRun_SkippedChecksStillReport(t *testing.T) {
	t.Parallel()

	port := listenLocal(t)
	runner := NewRunner(validConfig(port), newPool(t, &stubDialer{}), Options{
		Skip: []string{CheckSSH, CheckSudo},
	})

	results := runner.Run(context.Background())
	byName := statusByName(results)
	require.Equal(t, StatusSkipped, byName[CheckSSH])
	require.Equal(t, StatusSkipped, byName[CheckSudo])
	require.True(t, AllPassed(results))
}

func TestRun_UnknownTargetFailsTasksCheckOnly(t *testing.T) {
	t.Parallel()

	port := listenLocal(t)
	runner := NewRunner(validConfig(port), newPool(t, &stubDialer{}), Options{
		Targets: []string{"ghost"},
	})

	results := runner.Run(context.Background())
	require.Len(t, results, 5)
	require.False(t, AllPassed(results))

	byName := statusByName(results)
	require.Equal(t, StatusFailed, byName[CheckTasks])
	require.Equal(t, StatusOK, byName[CheckConfig])
	require.Equal(t, StatusOK, byName[CheckSSH])
}

func TestRun_UnreachableHostFailsHostsCheck(t *testing.T) {
	t.Parallel()

	// Grab a port and close it again so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	runner := NewRunner(validConfig(port), newPool(t, &stubDialer{}), Options{
		Skip: []string{CheckSSH, CheckSudo},
	})

	results := runner.Run(context.Background())
	byName := statusByName(results)
	require.Equal(t, StatusFailed, byName[CheckHosts])

	for _, result := range results {
		if result.Name == CheckHosts {
			require.Contains(t, result.Detail, "unreachable")
		}
	}
}

func TestRun_SSHDialFailure(t *testing.T) {
	t.Parallel()

	port := listenLocal(t)
	runner := NewRunner(validConfig(port), newPool(t, &stubDialer{dialErr: fmt.Errorf("no route")}), Options{})

	results := runner.Run(context.Background())
	byName := statusByName(results)
	require.Equal(t, StatusFailed, byName[CheckSSH])
	require.Equal(t, StatusFailed, byName[CheckSudo])
	require.Equal(t, StatusOK, byName[CheckHosts])
}

func TestRun_SudoRequiresPassword(t *testing.T) {
	t.Parallel()

	port := listenLocal(t)
	dialer := &stubDialer{sudoErr: nexuserrors.NewCommandError("sudo -n true", 1, "a password is required")}
	runner := NewRunner(validConfig(port), newPool(t, dialer), Options{})

	results := runner.Run(context.Background())
	byName := statusByName(results)
	require.Equal(t, StatusOK, byName[CheckSSH])
	require.Equal(t, StatusFailed, byName[CheckSudo])
}

func TestRun_InvalidConfigStillRunsOtherChecks(t *testing.T) {
	t.Parallel()

	port := listenLocal(t)
	cfg := validConfig(port)
	task := cfg.Tasks["deploy"]
	task.On = "no-such-target"
	cfg.Tasks["deploy"] = task

	runner := NewRunner(cfg, newPool(t, &stubDialer{}), Options{})
	results := runner.Run(context.Background())
	require.Len(t, results, 5)

	byName := statusByName(results)
	require.Equal(t, StatusFailed, byName[CheckConfig])
	require.Equal(t, StatusOK, byName[CheckHosts])
}

func TestAllPassed(t *testing.T) {
	t.Parallel()

	require.True(t, AllPassed(nil))
	require.True(t, AllPassed([]CheckResult{{Status: StatusOK}, {Status: StatusSkipped}}))
	require.False(t, AllPassed([]CheckResult{{Status: StatusOK}, {Status: StatusFailed}}))
}
