package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.False(t, cfg.Policy.BlockHighSeverityConflicts)
	require.Equal(t, 4, cfg.Retry.MaxAttempts)
	require.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, "all", cfg.Audit.Mode)
	require.Equal(t, 64, cfg.Hierarchy.MaxDepth)
	require.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("policy:\n  block_high_severity_conflicts: true\naudit:\n  mode: db\n"))
	require.NoError(t, err)
	require.True(t, cfg.Policy.BlockHighSeverityConflicts)
	require.Equal(t, "db", cfg.Audit.Mode)
	require.Equal(t, 256, cfg.Audit.QueueSize)
	require.Equal(t, 250*time.Millisecond, cfg.Audit.InlineTimeout)
	require.Equal(t, 4, cfg.Retry.MaxAttempts)
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	_, err := FromYAML([]byte("audit:\n  mode: loud\n"))
	require.ErrorContains(t, err, "config.audit.mode")

	_, err = FromYAML([]byte("retry:\n  max_attempts: 0\n"))
	require.ErrorContains(t, err, "config.retry.max_attempts")

	_, err = FromYAML([]byte("server:\n  base_path: v0\n"))
	require.ErrorContains(t, err, "config.server.base_path")

	_, err = FromYAML([]byte("policy: [\n"))
	require.ErrorContains(t, err, "invalid config yaml")
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("hierarchy:\n  max_depth: 8\n"), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Hierarchy.MaxDepth)
}
