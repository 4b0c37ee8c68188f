package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layermonitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	return path
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown flag", []string{"-nope"}, 2},
		{"missing config file", []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, 1},
		{"list synthetic", []string{"-list"}, 0},
		{
			// Lookup fails after the environment exists; run must return
			// through its deferred teardown instead of exiting.
			"net source not found",
			[]string{"-config", writeConfig(t, `
instance_id: test
source:
  kind: net
  name: stage
  addresses: ["127.0.0.1:1"]
  dial_timeout_ms: 200
`)},
			1,
		},
		{
			"invalid source kind",
			[]string{"-config", writeConfig(t, "source: {kind: webcam}\n")},
			1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(tt.args))
		})
	}
}

func TestBuildSource_EnvironmentSeesSource(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	src, env, err := buildSource(cfg)
	require.NoError(t, err)
	require.NotNil(t, src)

	info, err := env.Lookup(context.Background(), "0")
	require.NoError(t, err)
	assert.Equal(t, "synthetic", info.Kind)
	require.NoError(t, env.Close())
	require.NoError(t, env.Close(), "close is idempotent")
	t.Logf("✅ %s at %s", info.Name, info.Address)
}
