package task

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/secrets"
)

// uploadCapture records byte uploads on top of the scripted session.
type uploadCapture struct {
	*scriptedSession
	mu      sync.Mutex
	uploads map[string][]byte
}

func newUploadCapture(rec *execRecorder) *uploadCapture {
	return &uploadCapture{
		scriptedSession: &scriptedSession{host: "web1", rec: rec},
		uploads:         map[string][]byte{},
	}
}

func (u *uploadCapture) UploadBytes(_ context.Context, data []byte, remotePath string) error {
	u.mu.Lock()
	u.uploads[remotePath] = append([]byte(nil), data...)
	u.mu.Unlock()
	return nil
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.conf.tmpl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunTemplate_RendersFactsVarsSecrets(t *testing.T) {
	t.Parallel()

	source := writeTemplate(t, "os={{.Facts.os}} port={{.Vars.port}} pw={{.Secrets.db_password}}\n")
	rec := &execRecorder{}
	session := newUploadCapture(rec)

	runner := &Runner{Secrets: secrets.Static{"db_password": "hunter2"}}
	outcome, err := runner.runTemplate(context.Background(), session, &config.TemplateStep{
		Source:      source,
		Destination: "/etc/app/app.conf",
		Vars:        map[string]string{"port": "8080"},
		Mode:        "0640",
	}, facts.Facts{facts.KeyOS: facts.OSLinux})

	require.NoError(t, err)
	require.Equal(t, StepOK, outcome.Status)
	require.Equal(t, "os=linux port=8080 pw=hunter2\n", string(session.uploads["/etc/app/app.conf"]))
	require.Contains(t, rec.snapshot(), "web1:chmod 0640 '/etc/app/app.conf'")
}

func TestRunTemplate_MissingKeyFails(t *testing.T) {
	t.Parallel()

	source := writeTemplate(t, "value={{.Vars.nope}}\n")
	session := newUploadCapture(&execRecorder{})

	runner := &Runner{}
	outcome, err := runner.runTemplate(context.Background(), session, &config.TemplateStep{
		Source:      source,
		Destination: "/etc/app/app.conf",
	}, facts.Facts{})

	require.Error(t, err)
	require.Equal(t, StepError, outcome.Status)
	require.Contains(t, outcome.Output, "render template")
	require.Empty(t, session.uploads)
}

func TestRunTemplate_MissingSourceFails(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	outcome, err := runner.runTemplate(context.Background(), newUploadCapture(&execRecorder{}), &config.TemplateStep{
		Source:      "/nonexistent/app.conf.tmpl",
		Destination: "/etc/app/app.conf",
	}, facts.Facts{})

	require.Error(t, err)
	require.Equal(t, StepError, outcome.Status)
}

func TestRunUpload_AppliesOwnershipOps(t *testing.T) {
	t.Parallel()

	rec := &execRecorder{}
	session := &scriptedSession{host: "web1", rec: rec}

	runner := &Runner{}
	outcome, err := runner.runUpload(context.Background(), session, &config.UploadStep{
		Source:      "files/app.tar.gz",
		Destination: "/srv/app.tar.gz",
		Mode:        "0644",
		Owner:       "deploy",
		Group:       "www-data",
	})

	require.NoError(t, err)
	require.Equal(t, StepOK, outcome.Status)
	require.Equal(t, []string{
		"web1:chmod 0644 '/srv/app.tar.gz'",
		"web1:chown deploy '/srv/app.tar.gz'",
		"web1:chgrp www-data '/srv/app.tar.gz'",
	}, rec.snapshot())
}

func TestRunDownload(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	outcome, err := runner.runDownload(context.Background(), &scriptedSession{host: "web1"}, &config.DownloadStep{
		Source:      "/var/log/app.log",
		Destination: "logs/app.log",
	})
	require.NoError(t, err)
	require.Equal(t, StepOK, outcome.Status)
	require.Contains(t, outcome.Cmd, "download /var/log/app.log")
}
