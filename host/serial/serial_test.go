package serial

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	require.Equal(t, "/dev/ttyACM0", cfg.Device)
	require.Equal(t, 250000, cfg.Baud)
	require.Zero(t, cfg.ReadTimeout)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)

	_, err = Open(&Config{})
	require.Error(t, err)

	missing := filepath.Join(t.TempDir(), "no-such-tty")
	_, err = Open(DefaultConfig(missing))
	require.Error(t, err)
	require.Contains(t, err.Error(), missing)
}
