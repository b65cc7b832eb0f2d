package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	t.Log(errOut.String())
	return out.String(), err
}

func TestSolve(t *testing.T) {
	out, err := execute(t, "", "solve", "forward", "--kinematics", "twolink", "0", "1.5707963267948966")
	require.NoError(t, err)
	require.Equal(t, "x=100.0000 y=100.0000 z=0.0000 e=0.0000\n", out)

	out, err = execute(t, "", "solve", "inverse", "--kinematics", "twolink", "100", "100", "0")
	require.NoError(t, err)
	require.Equal(t, "stepper_s=0.000000\nstepper_a=1.570796\n", out)

	_, err = execute(t, "", "solve", "inverse", "--kinematics", "twolink", "300", "0", "0")
	require.Error(t, err)

	_, err = execute(t, "", "solve", "forward", "--kinematics", "multilink", "1", "2")
	require.Error(t, err)
}

func TestCheckConfig(t *testing.T) {
	out, err := execute(t, "", "check-config", "--kinematics", "multilink", "--protocol", "manual")
	require.NoError(t, err)
	require.Contains(t, out, "kinematics: multilink\n")
	require.Contains(t, out, "homing: manual")
	require.Contains(t, out, "rail stepper_b: multilink[0](l0=40,l1=150,l2=150) range [-3.2, 3.2] auxiliary\n")
	require.Contains(t, out, "rail stepper_s: multilink[1](l0=40,l1=150,l2=150) range [-1.6, 1.6] endstop 0 (positive)\n")
	require.Contains(t, out, "home: x=190.000 y=0.000 z=150.000\n")
	require.True(t, strings.HasSuffix(out, "ok\n"))
}

func TestCheckConfigRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kinematics: twolink\nl1: 100\nl2: 0\n"), 0o644))
	_, err := execute(t, "", "check-config", "--config", path)
	require.Error(t, err)
}

func TestRunStdin(t *testing.T) {
	out, err := execute(t, "G28\nG1 X10 Y10\nM114\nG1 X999\n", "run", "--listen", "")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "ok", lines[0])
	require.Equal(t, "ok", lines[1])
	require.Equal(t, "ok X:10.000 Y:10.000 Z:0.000 E:0.000", lines[2])
	require.True(t, strings.HasPrefix(lines[3], "!! "), lines[3])
}
