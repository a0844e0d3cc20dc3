package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "poet.conf")
	content := "backend = attested\nmetricslisten = localhost:2112\n[Service]\nlocal-mean = 42.5\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o600))

	cfg := DefaultConfig()
	cfg.ConfigFile = cfgFile
	cfg, err := ReadConfigFile(cfg)
	require.NoError(t, err)
	require.Equal(t, "attested", cfg.Backend)
	require.Equal(t, "localhost:2112", cfg.RawMetricsListener)
	require.Equal(t, 42.5, cfg.Service.LocalMean)
}

func TestReadConfigFileMissingIsNotFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfigFile = filepath.Join(t.TempDir(), "does-not-exist.conf")
	cfg, err := ReadConfigFile(cfg)
	require.NoError(t, err)
	require.Equal(t, defaultBackend, cfg.Backend)
}

func TestSetupConfigDerivesDirsFromPoetDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoetDir = filepath.Join(t.TempDir(), "custom")
	cfg, err := SetupConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.PoetDir, defaultDataDirname), cfg.DataDir)
	require.Equal(t, filepath.Join(cfg.PoetDir, defaultConfigDirname), cfg.ConfigDir)
	require.Equal(t, filepath.Join(cfg.PoetDir, defaultLogDirname), cfg.LogDir)
	require.DirExists(t, cfg.PoetDir)
}

func TestSetupConfigResolvesMetricsListener(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoetDir = t.TempDir()
	cfg.RawMetricsListener = "localhost:2112"
	cfg, err := SetupConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, cfg.MetricsListener)
	require.Equal(t, "tcp", cfg.MetricsListener.Network())

	cfg = DefaultConfig()
	cfg.PoetDir = t.TempDir()
	cfg.RawMetricsListener = "not a listener"
	_, err = SetupConfig(cfg)
	require.Error(t, err)
}

func TestCleanAndExpandPath(t *testing.T) {
	t.Setenv("POET_TEST_DIR", "/var/poet")
	require.Equal(t, "/var/poet/data", cleanAndExpandPath("$POET_TEST_DIR/data"))
	require.Equal(t, "", cleanAndExpandPath(""))
}
