package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoFilePresentReturnsZeroConfig(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad_ParsesWorkingDirectoryFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)

	contents := "path:\n  - ../shared\nprompt: \"ry> \"\ntime: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rydestarc.yaml"), []byte(contents), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"../shared"}, cfg.Path)
	assert.Equal(t, "ry> ", cfg.Prompt)
	assert.True(t, cfg.Time)
	assert.False(t, cfg.Watch)
}

func TestLoad_FallsBackToHomeDirectory(t *testing.T) {
	workDir := t.TempDir()
	homeDir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workDir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", homeDir)

	contents := "banner: \"welcome\"\nwatch: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(homeDir, ".rydestarc.yaml"), []byte(contents), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "welcome", cfg.Banner)
	assert.True(t, cfg.Watch)
}
