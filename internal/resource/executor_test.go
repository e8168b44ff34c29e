package resource

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/pkg/diff"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

type fakeProvider struct {
	checkState State
	checkErr   error
	diff       *diff.Diff
	diffErr    error
	applyRes   *Result
	applyErr   error

	checkCalls int
	applyCalls int
}

func (p *fakeProvider) Describe(step *config.Step) string {
	return "package " + step.Package.Name
}

func (p *fakeProvider) Check(context.Context, *config.Step, sshconn.Session, Context) (State, error) {
	p.checkCalls++
	return p.checkState, p.checkErr
}

func (p *fakeProvider) Diff(*config.Step, State) (*diff.Diff, error) {
	return p.diff, p.diffErr
}

func (p *fakeProvider) Apply(context.Context, *config.Step, sshconn.Session, Context) (*Result, error) {
	p.applyCalls++
	return p.applyRes, p.applyErr
}

type fakeSelector struct {
	provider Provider
	err      error
}

func (s *fakeSelector) ProviderFor(string, facts.Facts) (Provider, error) {
	return s.provider, s.err
}

type recordingNotifier struct {
	notified []string
}

func (n *recordingNotifier) Notify(name string) {
	n.notified = append(n.notified, name)
}

func packageStep(notify string) *config.Step {
	return &config.Step{
		Type:    config.StepPackage,
		Package: &config.PackageResource{Name: "nginx", State: "installed", Notify: notify},
	}
}

func debianFacts() facts.Facts {
	return facts.Facts{facts.KeyOS: facts.OSLinux, facts.KeyOSFamily: facts.FamilyDebian}
}

func TestExecute_WhenFalseSkipsWithoutChecking(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	step := packageStep("")
	step.Package.When = &config.When{Fact: facts.KeyOSFamily, Equals: facts.FamilyRHEL}

	result := Execute(context.Background(), step, nil, Context{Facts: debianFacts()}, &fakeSelector{provider: provider}, nil)
	require.Equal(t, StatusSkipped, result.Status)
	require.Equal(t, "condition not met", result.Message)
	require.Zero(t, provider.checkCalls)
	require.Zero(t, provider.applyCalls)
}

func TestExecute_SelectorErrorFails(t *testing.T) {
	t.Parallel()

	selector := &fakeSelector{err: nexuserrors.NewUnsupportedOSError("plan9")}
	result := Execute(context.Background(), packageStep(""), nil, Context{Facts: debianFacts()}, selector, nil)
	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Message, "plan9")
}

func TestExecute_CheckErrorFails(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{checkErr: fmt.Errorf("dpkg database locked")}
	result := Execute(context.Background(), packageStep(""), nil, Context{Facts: debianFacts()}, &fakeSelector{provider: provider}, nil)
	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Message, "check failed")
	require.Zero(t, provider.applyCalls)
}

func TestExecute_NoChangeIsOKWithoutApply(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{diff: diff.None()}
	result := Execute(context.Background(), packageStep("reload"), nil, Context{Facts: debianFacts()}, &fakeSelector{provider: provider}, nil)
	require.Equal(t, StatusOK, result.Status)
	require.Nil(t, result.Diff)
	require.Empty(t, result.Notify)
	require.Zero(t, provider.applyCalls)
}

func TestExecute_ChangedAppliesAndNotifies(t *testing.T) {
	t.Parallel()

	pending := diff.New("absent", "installed", "install nginx")
	provider := &fakeProvider{
		diff:     pending,
		applyRes: &Result{Status: StatusChanged, Message: "installed nginx"},
	}
	notifier := &recordingNotifier{}

	result := Execute(context.Background(), packageStep("reload-nginx"), nil, Context{Facts: debianFacts()}, &fakeSelector{provider: provider}, notifier)
	require.Equal(t, StatusChanged, result.Status)
	require.Equal(t, "package nginx", result.Description)
	require.Same(t, pending, result.Diff)
	require.Equal(t, "reload-nginx", result.Notify)
	require.Equal(t, []string{"reload-nginx"}, notifier.notified)
	require.Equal(t, 1, provider.applyCalls)
}

func TestExecute_CheckModeReportsWithoutApplying(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{diff: diff.New("absent", "installed", "install nginx")}
	notifier := &recordingNotifier{}

	result := Execute(context.Background(), packageStep("reload-nginx"), nil, Context{Facts: debianFacts(), CheckMode: true}, &fakeSelector{provider: provider}, notifier)
	require.Equal(t, StatusChanged, result.Status)
	require.Contains(t, result.Message, "would change")
	require.Equal(t, "reload-nginx", result.Notify)
	// Check mode surfaces the pending notify but never enqueues it.
	require.Empty(t, notifier.notified)
	require.Zero(t, provider.applyCalls)
}

func TestExecute_ApplyErrorFails(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		diff:     diff.New("absent", "installed", "install nginx"),
		applyErr: fmt.Errorf("apt-get exited 100"),
	}
	notifier := &recordingNotifier{}

	result := Execute(context.Background(), packageStep("reload-nginx"), nil, Context{Facts: debianFacts()}, &fakeSelector{provider: provider}, notifier)
	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Message, "apply failed")
	require.Empty(t, notifier.notified)
}

func TestExecuteAll_StopsOnFailure(t *testing.T) {
	t.Parallel()

	failing := &fakeProvider{checkErr: fmt.Errorf("boom")}
	steps := []*config.Step{packageStep(""), packageStep(""), packageStep("")}

	results := ExecuteAll(context.Background(), steps, nil, Context{Facts: debianFacts()}, &fakeSelector{provider: failing}, nil, false)
	require.Len(t, results, 1)
	require.Equal(t, StatusFailed, results[0].Status)

	results = ExecuteAll(context.Background(), steps, nil, Context{Facts: debianFacts()}, &fakeSelector{provider: failing}, nil, true)
	require.Len(t, results, 3)
}

func TestExecuteAll_StopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &fakeProvider{diff: diff.None()}
	results := ExecuteAll(ctx, []*config.Step{packageStep("")}, nil, Context{Facts: debianFacts()}, &fakeSelector{provider: provider}, nil, false)
	require.Empty(t, results)
}
