package config

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWhenEval(t *testing.T) {
	t.Parallel()

	facts := map[string]string{
		"os_family": "debian",
		"arch":      "x86_64",
	}

	var nilWhen *When
	require.True(t, nilWhen.Eval(facts))

	require.True(t, (&When{Fact: "os_family", Equals: "debian"}).Eval(facts))
	require.False(t, (&When{Fact: "os_family", Equals: "rhel"}).Eval(facts))
	require.False(t, (&When{Fact: "missing", Equals: "x"}).Eval(facts))

	require.True(t, (&When{Not: &When{Fact: "os_family", Equals: "rhel"}}).Eval(facts))

	allOf := &When{AllOf: []*When{
		{Fact: "os_family", Equals: "debian"},
		{Fact: "arch", Equals: "x86_64"},
	}}
	require.True(t, allOf.Eval(facts))

	anyOf := &When{AnyOf: []*When{
		{Fact: "os_family", Equals: "rhel"},
		{Fact: "arch", Equals: "x86_64"},
	}}
	require.True(t, anyOf.Eval(facts))

	neither := &When{AnyOf: []*When{
		{Fact: "os_family", Equals: "rhel"},
		{Fact: "arch", Equals: "aarch64"},
	}}
	require.False(t, neither.Eval(facts))
}

func TestStepUnmarshal_TaggedUnion(t *testing.T) {
	t.Parallel()

	var step Step
	require.NoError(t, yaml.Unmarshal([]byte(`
type: service
name: nginx
state: started
enabled: true
when:
  fact: os_family
  equals: debian
`), &step))

	require.Equal(t, StepService, step.Type)
	require.NotNil(t, step.Service)
	require.Equal(t, "nginx", step.Service.Name)
	require.Equal(t, "started", step.Service.State)
	require.NotNil(t, step.Service.Enabled)
	require.True(t, *step.Service.Enabled)
	require.NotNil(t, step.Service.When)
	require.True(t, step.IsResource())
}

func TestStepUnmarshal_CommandResourceGuards(t *testing.T) {
	t.Parallel()

	var step Step
	require.NoError(t, yaml.Unmarshal([]byte(`
type: command_resource
cmd: make install
creates: /usr/local/bin/tool
unless: which tool
sudo: true
`), &step))

	require.Equal(t, StepCommandResource, step.Type)
	require.Equal(t, "make install", step.CommandRes.Cmd)
	require.Equal(t, "/usr/local/bin/tool", step.CommandRes.Creates)
	require.Equal(t, "which tool", step.CommandRes.Unless)
	require.True(t, step.CommandRes.Sudo)
}

func TestStepUnmarshal_WaitFor(t *testing.T) {
	t.Parallel()

	var step Step
	require.NoError(t, yaml.Unmarshal([]byte(`
type: wait_for
kind: http
url: http://localhost:8080/healthz
status: 204
interval: 500
timeout: 30000
`), &step))

	require.Equal(t, StepWaitFor, step.Type)
	require.Equal(t, WaitForHTTP, step.WaitFor.Kind)
	require.Equal(t, 204, step.WaitFor.Status)
	require.False(t, step.IsResource())
}
