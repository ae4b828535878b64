package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID returns the pid of a process that has already exited.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func TestPIDFile_WriteReadRemove(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nested", "daemon.pid"))

	require.NoError(t, pf.Write())
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, pf.IsRunning())

	require.NoError(t, pf.Remove())
	require.NoError(t, pf.Remove(), "removing twice is fine")
	_, err = pf.Read()
	assert.ErrorIs(t, err, ErrPIDFileNotFound)
	assert.False(t, pf.IsRunning())
}

func TestPIDFile_ReadTrimsAndRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	pf := NewPIDFile(path)

	require.NoError(t, os.WriteFile(path, []byte("1234\n"), 0o644))
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))
	_, err = pf.Read()
	assert.ErrorContains(t, err, "invalid PID")
}

func TestPIDFile_AcquireReplacesDeadOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID(t))), 0o644))

	pf := NewPIDFile(path)
	require.NoError(t, pf.Acquire())
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

// startSleeper starts a long-lived child process and returns its pid.
func startSleeper(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd.Process.Pid
}

func TestPIDFile_AcquireRefusesLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(startSleeper(t))), 0o644))

	err := NewPIDFile(path).Acquire()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestPIDFile_AcquireOwnPID(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "daemon.pid"))
	require.NoError(t, pf.Write())
	assert.NoError(t, pf.Acquire(), "re-acquiring our own file is allowed")
}

func TestPIDFile_Signal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	pf := NewPIDFile(path)
	require.NoError(t, pf.Write())
	assert.NoError(t, pf.Signal(syscall.Signal(0)))

	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID(t))), 0o644))
	assert.Error(t, pf.Signal(syscall.Signal(0)))

	require.NoError(t, pf.Remove())
	assert.Error(t, pf.Signal(syscall.Signal(0)))
}
