package task

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/secrets"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/internal/telemetry"
)

// templateData is what a template file sees: host facts under .Facts,
// the step's variable map under .Vars, and named secrets under .Secrets.
type templateData struct {
	Facts   map[string]string
	Vars    map[string]string
	Secrets map[string]string
}

// runTemplate renders a local template against host facts and step vars,
// then uploads the result.
func (r *Runner) runTemplate(ctx context.Context, session sshconn.Session, step *config.TemplateStep, hostFacts facts.Facts) (CommandOutcome, error) {
	start := time.Now()
	label := fmt.Sprintf("template %s -> %s", step.Source, step.Destination)

	fail := func(err error) (CommandOutcome, error) {
		return CommandOutcome{
			Cmd:      label,
			Status:   StepError,
			Output:   err.Error(),
			Attempts: 1,
			Duration: telemetry.Since(start),
		}, err
	}

	raw, err := os.ReadFile(step.Source)
	if err != nil {
		return fail(err)
	}

	tmpl, err := template.New(step.Source).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return fail(fmt.Errorf("parse template: %w", err))
	}

	var rendered bytes.Buffer
	data := templateData{Facts: hostFacts, Vars: step.Vars, Secrets: materializeSecrets(r.Secrets)}
	if err := tmpl.Execute(&rendered, data); err != nil {
		return fail(fmt.Errorf("render template: %w", err))
	}

	if err := session.UploadBytes(ctx, rendered.Bytes(), step.Destination); err != nil {
		return fail(err)
	}

	if step.Mode != "" {
		cmd := fmt.Sprintf("chmod %s %s", step.Mode, quotePath(step.Destination))
		if _, err := session.ExecSudo(ctx, cmd, sshconn.ExecOptions{}); err != nil {
			return fail(err)
		}
	}

	return CommandOutcome{
		Cmd:      label,
		Status:   StepOK,
		Attempts: 1,
		Duration: telemetry.Since(start),
	}, nil
}

func materializeSecrets(store secrets.Store) map[string]string {
	out := map[string]string{}
	if store == nil {
		return out
	}
	for _, name := range store.Names() {
		if value, ok := store.Get(name); ok {
			out[name] = value
		}
	}
	return out
}
