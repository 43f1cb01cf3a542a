package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "./artifacts", cfg.ArtifactsRoot)
	assert.Equal(t, 48, cfg.RetentionHours)
	assert.Equal(t, "balanced", cfg.RedactionMode)
	assert.Equal(t, 30, cfg.LockTTLMinutes)
	assert.Equal(t, "locks/worker.lock", cfg.LockKey)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARTIFACTS_ROOT", "gs://fleet-artifacts/prod")
	t.Setenv("RETENTION_HOURS", "12")
	t.Setenv("REDACTION_MODE", "strict")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "gs://fleet-artifacts/prod", cfg.ArtifactsRoot)
	assert.Equal(t, 12, cfg.RetentionHours)
	assert.Equal(t, "strict", cfg.RedactionMode)
}

func TestLoadProfileFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(profile, []byte(
		"artifacts_root: /srv/artifacts\nretention_hours: 72\nredaction_mode: strict\n"), 0o600))

	cfg, err := config.Load(profile)
	require.NoError(t, err)
	assert.Equal(t, "/srv/artifacts", cfg.ArtifactsRoot)
	assert.Equal(t, 72, cfg.RetentionHours)

	// Environment wins over the profile file.
	t.Setenv("RETENTION_HOURS", "6")
	cfg, err = config.Load(profile)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.RetentionHours)
	assert.Equal(t, "/srv/artifacts", cfg.ArtifactsRoot)
}

func TestLoadRejectsUnknownRedactionMode(t *testing.T) {
	t.Setenv("REDACTION_MODE", "paranoid")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RedactionMode")
}

func TestLogValueOmitsSalt(t *testing.T) {
	t.Setenv("REDACTION_SALT", "super-secret-salt")

	cfg, err := config.Load("")
	require.NoError(t, err)

	val := cfg.LogValue()
	require.Equal(t, slog.KindGroup, val.Kind())
	for _, attr := range val.Group() {
		assert.NotContains(t, attr.Value.String(), "super-secret-salt")
		assert.NotEqual(t, "redaction_salt", attr.Key)
	}
	assert.False(t, strings.Contains(val.String(), "super-secret-salt"))
}
