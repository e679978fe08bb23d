package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, validate(Default()))
}

func TestLoadFillsDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "link.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
device = "/dev/ttyUSB0"
baud = 230400
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB0", cfg.Device)
	require.Equal(t, 230400, cfg.Baud)
	require.Equal(t, Default().MTU, cfg.MTU)
	require.Equal(t, Default().InvokeTimeout, cfg.InvokeTimeout)
}

func TestLoadParsesInvokeTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "link.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
device = "/dev/ttyACM0"
invoke_timeout = "1500ms"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, cfg.InvokeTimeout)
}

func TestLoadRejectsBadInvokeTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "link.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
device = "/dev/ttyACM0"
invoke_timeout = "not-a-duration"
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsOversizeMTU(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "link.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
device = "/dev/ttyACM0"
mtu = 999
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
