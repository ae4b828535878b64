package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busyWork() int {
	sum := 0
	for i := 0; i < 1000000; i++ {
		sum += i
	}
	return sum
}

func assertNonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestProfiler_AllProfiles(t *testing.T) {
	// Given: every profile requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Mem:   filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	require.True(t, opts.Enabled())

	// When: profiling some work
	p, err := Start(opts)
	require.NoError(t, err)
	_ = busyWork()
	require.NoError(t, p.Stop())

	// Then: each file has content
	assertNonEmpty(t, opts.CPU)
	assertNonEmpty(t, opts.Mem)
	assertNonEmpty(t, opts.Trace)
}

func TestProfiler_NoneRequested(t *testing.T) {
	opts := Options{}
	assert.False(t, opts.Enabled())

	p, err := Start(opts)
	require.NoError(t, err)
	assert.NoError(t, p.Stop())
}

func TestProfiler_NilStop(t *testing.T) {
	var p *Profiler
	assert.NoError(t, p.Stop())
}

func TestProfiler_BadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})
	assert.ErrorContains(t, err, "failed to create CPU profile file")
}

func TestProfiler_TraceFailureStopsCPU(t *testing.T) {
	dir := t.TempDir()
	_, err := Start(Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Trace: filepath.Join(dir, "missing", "trace.out"),
	})
	require.ErrorContains(t, err, "failed to create trace file")

	// CPU profiling was stopped, so it can start again.
	p, err := Start(Options{CPU: filepath.Join(dir, "cpu2.prof")})
	require.NoError(t, err)
	require.NoError(t, p.Stop())
}

func TestWriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")
	require.NoError(t, WriteHeap(path))
	assertNonEmpty(t, path)
}
