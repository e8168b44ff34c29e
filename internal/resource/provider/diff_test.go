package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/resource"
)

func TestPackageDiff(t *testing.T) {
	t.Parallel()

	p := &packageProvider{manager: aptManager}
	step := &config.Step{Type: config.StepPackage, Package: &config.PackageResource{Name: "nginx"}}

	d, err := p.Diff(step, resource.State{"installed": "true"})
	require.NoError(t, err)
	require.False(t, d.Changed)

	d, err = p.Diff(step, resource.State{"installed": "false"})
	require.NoError(t, err)
	require.Equal(t, []string{"install nginx"}, d.Changes)

	step.Package.State = "latest"
	d, err = p.Diff(step, resource.State{"installed": "true"})
	require.NoError(t, err)
	require.Equal(t, []string{"upgrade nginx"}, d.Changes)

	step.Package.State = "absent"
	d, err = p.Diff(step, resource.State{"installed": "true"})
	require.NoError(t, err)
	require.Equal(t, []string{"remove nginx"}, d.Changes)

	d, err = p.Diff(step, resource.State{"installed": "false"})
	require.NoError(t, err)
	require.False(t, d.Changed)
}

func TestServiceDiff(t *testing.T) {
	t.Parallel()

	enabled := true
	step := &config.Step{Type: config.StepService, Service: &config.ServiceResource{
		Name: "nginx", State: "started", Enabled: &enabled,
	}}

	d, err := serviceDiff(step, resource.State{"active": "true", "enabled": "true"})
	require.NoError(t, err)
	require.False(t, d.Changed)

	d, err = serviceDiff(step, resource.State{"active": "false", "enabled": "false"})
	require.NoError(t, err)
	require.Equal(t, []string{"start nginx", "enable nginx"}, d.Changes)
	require.Equal(t, "stopped", d.Before)

	// Restart is unconditional: it always produces a change.
	step.Service.State = "restarted"
	d, err = serviceDiff(step, resource.State{"active": "true", "enabled": "true"})
	require.NoError(t, err)
	require.Equal(t, []string{"restart nginx"}, d.Changes)

	step.Service.State = "warp"
	_, err = serviceDiff(step, resource.State{})
	require.Error(t, err)
}

func TestUserDiff(t *testing.T) {
	t.Parallel()

	u := &config.UserResource{Name: "deploy", UID: 1200, Shell: "/bin/bash", Groups: []string{"wheel", "docker"}}

	d, err := userDiff(u, resource.State{"exists": "false"})
	require.NoError(t, err)
	require.Contains(t, d.Changes, "create user deploy")
	require.Contains(t, d.Changes, "set groups wheel,docker for deploy")

	d, err = userDiff(u, resource.State{
		"exists": "true", "uid": "1200", "shell": "/bin/bash", "groups": "docker,wheel",
	})
	require.NoError(t, err)
	require.False(t, d.Changed)

	d, err = userDiff(u, resource.State{
		"exists": "true", "uid": "1000", "shell": "/bin/sh", "groups": "docker,wheel",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"set uid 1200 for deploy", "set shell /bin/bash for deploy"}, d.Changes)

	absent := &config.UserResource{Name: "deploy", State: "absent"}
	d, err = userDiff(absent, resource.State{"exists": "true"})
	require.NoError(t, err)
	require.Equal(t, []string{"remove user deploy"}, d.Changes)
}

func TestGroupDiff(t *testing.T) {
	t.Parallel()

	g := &config.GroupResource{Name: "docker", GID: 990}

	d, err := groupDiff(g, resource.State{"exists": "false"})
	require.NoError(t, err)
	require.Equal(t, []string{"create group docker"}, d.Changes)

	d, err = groupDiff(g, resource.State{"exists": "true", "gid": "990"})
	require.NoError(t, err)
	require.False(t, d.Changed)

	d, err = groupDiff(g, resource.State{"exists": "true", "gid": "1001"})
	require.NoError(t, err)
	require.Equal(t, []string{"set gid 990 for docker"}, d.Changes)
}

func TestFileDiff(t *testing.T) {
	t.Parallel()

	p := &unixFileProvider{}
	content := "server { listen 80; }\n"
	sum := sha256.Sum256([]byte(content))
	step := &config.Step{Type: config.StepFile, File: &config.FileResource{
		Path: "/etc/nginx/nginx.conf", Content: content, Mode: "0644", Owner: "root",
	}}

	d, err := p.Diff(step, resource.State{"exists": "false"})
	require.NoError(t, err)
	require.Equal(t, []string{
		"create file /etc/nginx/nginx.conf",
		"set mode 0644 on /etc/nginx/nginx.conf",
		"set owner root on /etc/nginx/nginx.conf",
	}, d.Changes)

	inSync := resource.State{
		"exists": "true", "sha256": hex.EncodeToString(sum[:]), "mode": "644", "owner": "root",
	}
	d, err = p.Diff(step, inSync)
	require.NoError(t, err)
	require.False(t, d.Changed)

	drifted := resource.State{
		"exists": "true", "sha256": "deadbeef", "mode": "600", "owner": "root",
	}
	d, err = p.Diff(step, drifted)
	require.NoError(t, err)
	require.Equal(t, []string{
		"update content of /etc/nginx/nginx.conf",
		"set mode 0644 on /etc/nginx/nginx.conf",
	}, d.Changes)
}

func TestFileDiff_RendersContentDetail(t *testing.T) {
	t.Parallel()

	p := &unixFileProvider{}
	step := &config.Step{Type: config.StepFile, File: &config.FileResource{
		Path: "/etc/app.conf", Content: "listen 8080\n",
	}}

	// Current content captured by the check step yields a line-level
	// rendering of the pending change.
	d, err := p.Diff(step, resource.State{
		"exists": "true", "kind": "file", "sha256": "deadbeef", "content": "listen 80\n",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"update content of /etc/app.conf"}, d.Changes)
	require.Contains(t, d.Detail, "--- /etc/app.conf")
	require.Contains(t, d.Detail, "+++ /etc/app.conf (desired)")
	require.Contains(t, d.Detail, "listen 80")

	// Without captured content the diff degrades to the summary.
	d, err = p.Diff(step, resource.State{"exists": "true", "kind": "file", "sha256": "deadbeef"})
	require.NoError(t, err)
	require.True(t, d.Changed)
	require.Empty(t, d.Detail)

	// A file to be created renders its full desired content.
	d, err = p.Diff(step, resource.State{"exists": "false"})
	require.NoError(t, err)
	require.Contains(t, d.Detail, "+listen 8080")
}

func TestDirectoryDiff_Absent(t *testing.T) {
	t.Parallel()

	p := &unixFileProvider{}
	step := &config.Step{Type: config.StepDirectory, Directory: &config.DirectoryResource{
		Path: "/tmp/build", State: "absent",
	}}

	d, err := p.Diff(step, resource.State{"exists": "true", "kind": "directory"})
	require.NoError(t, err)
	require.Equal(t, []string{"remove /tmp/build"}, d.Changes)

	d, err = p.Diff(step, resource.State{"exists": "false"})
	require.NoError(t, err)
	require.False(t, d.Changed)
}

func TestCommandDiff_Guards(t *testing.T) {
	t.Parallel()

	p := &commandProvider{}

	step := &config.Step{Type: config.StepCommandResource, CommandRes: &config.CommandResource{
		Cmd: "make install", Creates: "/usr/local/bin/tool",
	}}
	d, err := p.Diff(step, resource.State{"creates_exists": "true"})
	require.NoError(t, err)
	require.False(t, d.Changed)

	d, err = p.Diff(step, resource.State{"creates_exists": "false"})
	require.NoError(t, err)
	require.Equal(t, []string{"run make install"}, d.Changes)

	step = &config.Step{Type: config.StepCommandResource, CommandRes: &config.CommandResource{
		Cmd: "rm -f /tmp/lock", Removes: "/tmp/lock",
	}}
	d, err = p.Diff(step, resource.State{"removes_exists": "false"})
	require.NoError(t, err)
	require.False(t, d.Changed)

	step = &config.Step{Type: config.StepCommandResource, CommandRes: &config.CommandResource{
		Cmd: "./migrate.sh", Unless: "./migrated.sh", OnlyIf: "test -f schema.sql",
	}}
	d, err = p.Diff(step, resource.State{"unless_ok": "true", "onlyif_ok": "true"})
	require.NoError(t, err)
	require.False(t, d.Changed)

	d, err = p.Diff(step, resource.State{"unless_ok": "false", "onlyif_ok": "false"})
	require.NoError(t, err)
	require.False(t, d.Changed)

	d, err = p.Diff(step, resource.State{"unless_ok": "false", "onlyif_ok": "true"})
	require.NoError(t, err)
	require.True(t, d.Changed)
}

func TestTruncateCmd(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", truncateCmd("short"))
	require.Equal(t, "first line", truncateCmd("first line\nsecond line"))

	long := strings.Repeat("x", 80)
	got := truncateCmd(long)
	require.Len(t, got, 60)
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestNormalizeMode(t *testing.T) {
	t.Parallel()

	require.Equal(t, "644", normalizeMode("0644"))
	require.Equal(t, "644", normalizeMode("644"))
	require.Equal(t, "755", normalizeMode("0755"))
}
