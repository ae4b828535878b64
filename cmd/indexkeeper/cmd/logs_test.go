package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, dir string) string {
	t.Helper()
	lines := []string{
		`{"time":"2026-10-19T10:00:00.000Z","level":"INFO","msg":"daemon_started","socket":"/tmp/ik.sock"}`,
		`{"time":"2026-10-19T10:00:01.000Z","level":"WARN","msg":"directory_change_dropped","subject":"alice"}`,
		`{"time":"2026-10-19T10:00:02.000Z","level":"DEBUG","msg":"content_written","id":"p1"}`,
	}
	path := filepath.Join(dir, "server.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestLogsCmd_Tail(t *testing.T) {
	dir := isolate(t)
	path := writeLog(t, dir)

	out, err := execute(t, "logs", "--file", path)

	require.NoError(t, err)
	assert.Contains(t, out, "daemon_started")
	assert.Contains(t, out, "directory_change_dropped")
	assert.Contains(t, out, "content_written")
}

func TestLogsCmd_Filters(t *testing.T) {
	dir := isolate(t)
	path := writeLog(t, dir)

	out, err := execute(t, "logs", "--file", path, "--level", "warn")
	require.NoError(t, err)
	assert.NotContains(t, out, "daemon_started")
	assert.Contains(t, out, "directory_change_dropped")

	out, err = execute(t, "logs", "--file", path, "--pattern", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1)
	assert.Contains(t, out, "content_written")

	out, err = execute(t, "logs", "--file", path, "-n", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "daemon_started")
	assert.Contains(t, out, "content_written")
}

func TestLogsCmd_Errors(t *testing.T) {
	dir := isolate(t)

	_, err := execute(t, "logs", "--file", filepath.Join(dir, "missing.log"))
	assert.ErrorContains(t, err, "failed to open log file")

	_, err = execute(t, "logs", "--file", writeLog(t, dir), "--pattern", "(")
	assert.ErrorContains(t, err, "invalid pattern")
}
