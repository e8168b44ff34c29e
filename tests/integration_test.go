package tests

import (
	"context"
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/pipeline"
	"github.com/nexus-fleet/nexus/internal/resource/provider"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// debianProbe is what the fact gatherer sees on every fake host.
const debianProbe = `uname_s=Linux
uname_m=x86_64
hostname=fake
os_release_begin
ID=debian
os_release_end`

// recorder captures every command executed across all fake sessions in
// arrival order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(host, cmd string) {
	r.mu.Lock()
	r.calls = append(r.calls, host+":"+cmd)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) indexOf(call string) int {
	for i, c := range r.snapshot() {
		if c == call {
			return i
		}
	}
	return -1
}

func (r *recorder) contains(call string) bool {
	return r.indexOf(call) != -1
}

// fakeSession simulates a debian host. Commands listed in fails exit 1;
// everything else exits 0. The fact probe always answers.
type fakeSession struct {
	host  string
	rec   *recorder
	fails map[string]bool
}

func (s *fakeSession) Exec(ctx context.Context, cmd string, _ sshconn.ExecOptions) (sshconn.ExecResult, error) {
	if strings.Contains(cmd, "os_release_begin") {
		return sshconn.ExecResult{Output: debianProbe}, nil
	}
	s.rec.record(s.host, cmd)
	if s.fails[cmd] {
		return sshconn.ExecResult{Output: "exit 1", ExitCode: 1},
			nexuserrors.NewCommandError(cmd, 1, "exit 1")
	}
	return sshconn.ExecResult{Output: "ok"}, nil
}

func (s *fakeSession) ExecSudo(ctx context.Context, cmd string, opts sshconn.ExecOptions) (sshconn.ExecResult, error) {
	return s.Exec(ctx, cmd, opts)
}

func (s *fakeSession) ExecStreaming(ctx context.Context, cmd string, _ func([]byte), opts sshconn.ExecOptions) (sshconn.ExecResult, error) {
	return s.Exec(ctx, cmd, opts)
}

func (s *fakeSession) Upload(context.Context, string, string) error      { return nil }
func (s *fakeSession) UploadBytes(context.Context, []byte, string) error { return nil }
func (s *fakeSession) Download(context.Context, string, string) error    { return nil }
func (s *fakeSession) Stat(context.Context, string) (fs.FileInfo, error) {
	return nil, fs.ErrNotExist
}
func (s *fakeSession) MkdirAll(context.Context, string) error { return nil }
func (s *fakeSession) Remove(context.Context, string) error   { return nil }
func (s *fakeSession) Alive() bool                            { return true }
func (s *fakeSession) Close() error                           { return nil }

type fakeDialer struct {
	rec   *recorder
	fails map[string]bool
}

func (d *fakeDialer) Dial(_ context.Context, host config.Host) (sshconn.Session, error) {
	return &fakeSession{host: host.Name, rec: d.rec, fails: d.fails}, nil
}

// newEngine wires the full stack over a fake fleet: parsed config, real
// pool, real provider registry, real fact gatherer.
func newEngine(t *testing.T, yamlDoc string, dialer *fakeDialer, opts pipeline.Options) *pipeline.Engine {
	t.Helper()

	cfg, err := config.ParseConfigBytes([]byte(yamlDoc))
	require.NoError(t, err)

	pool := sshconn.NewPool(dialer, sshconn.PoolOptions{Capacity: 5})
	t.Cleanup(pool.CloseAll)

	return pipeline.New(cfg, pool, provider.NewRegistry(), facts.NewGatherer(), opts)
}
