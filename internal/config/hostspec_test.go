package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHostSpec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		spec string
		want Host
	}{
		{"web1.example.com", Host{Hostname: "web1.example.com", Port: 22}},
		{"deploy@web1.example.com", Host{Hostname: "web1.example.com", User: "deploy", Port: 22}},
		{"web1.example.com:2222", Host{Hostname: "web1.example.com", Port: 2222}},
		{"deploy@web1.example.com:2222", Host{Hostname: "web1.example.com", User: "deploy", Port: 2222}},
		{"root@10.0.0.5:22", Host{Hostname: "10.0.0.5", User: "root", Port: 22}},
	}

	for _, tc := range cases {
		got, err := ParseHostSpec(tc.spec)
		require.NoError(t, err, tc.spec)
		require.Equal(t, tc.want, got, tc.spec)
	}
}

func TestParseHostSpec_Invalid(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{
		"",
		"   ",
		"@host",
		"user@",
		"host:notaport",
		"host:0",
		"host:70000",
	} {
		_, err := ParseHostSpec(spec)
		require.Error(t, err, spec)
	}
}

func TestFormatHostSpec_RoundTrips(t *testing.T) {
	t.Parallel()

	hosts := []Host{
		{Hostname: "web1", User: "deploy", Port: 2222},
		{Hostname: "web1", Port: 22},
		{Hostname: "10.0.0.5", User: "root", Port: 22},
	}

	for _, host := range hosts {
		parsed, err := ParseHostSpec(FormatHostSpec(host))
		require.NoError(t, err)
		require.Equal(t, host, parsed)
	}
}

func TestHostAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "web1:2222", Host{Hostname: "web1", Port: 2222}.Address())
	require.Equal(t, "web1:22", Host{Hostname: "web1"}.Address())
}
