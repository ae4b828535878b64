package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/search"
)

// isolate points every path indexkeeper touches into a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("INDEXKEEPER_STORE_ROOT", filepath.Join(dir, "indexes"))
	t.Setenv("INDEXKEEPER_SOCKET", filepath.Join(dir, "ik.sock"))
	t.Setenv("INDEXKEEPER_BUS_TRANSPORT", "memory")
	t.Setenv("NO_COLOR", "1")
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), args...)
}

func executeContext(ctx context.Context, args ...string) (string, error) {
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func writeDocs(t *testing.T, dir string, docs any) string {
	t.Helper()
	data, err := json.Marshal(docs)
	require.NoError(t, err)
	path := filepath.Join(dir, "docs.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

var pages = []map[string]any{
	{"id": "p1", "type": "page", "fields": map[string]any{"title": "Kernel notes", "body": "scheduler internals", "tags": "linux"}},
	{"id": "p2", "type": "page", "fields": map[string]any{"title": "Gardening", "body": "tomatoes and kernels of corn", "tags": "home"}},
}

func searchJSON(t *testing.T, args ...string) *search.Result {
	t.Helper()
	out, err := execute(t, append([]string{"search", "--local", "--format", "json"}, args...)...)
	require.NoError(t, err, out)
	var res search.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return &res
}

func hitIDs(res *search.Result) []string {
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// Then: every top-level command is registered
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "search", "suggest", "index", "delete", "directory", "status", "config", "logs", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestIndexAndSearch_Local(t *testing.T) {
	// Given: two pages indexed for alice
	dir := isolate(t)
	out, err := execute(t, "index", writeDocs(t, dir, pages), "-p", "alice", "--local")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Indexed 2 of 2 documents for alice")

	// When: alice searches
	res := searchJSON(t, "kernel", "-p", "alice")

	// Then: the matching page is found
	assert.Contains(t, hitIDs(res), "p1")

	// And: bob's indexes are separate
	res = searchJSON(t, "kernel", "-p", "bob")
	assert.Empty(t, res.Hits)
}

func TestSearch_TextOutputAndFacets(t *testing.T) {
	dir := isolate(t)
	_, err := execute(t, "index", writeDocs(t, dir, pages), "-p", "alice", "--local")
	require.NoError(t, err)

	out, err := execute(t, "search", "kernel", "-p", "alice", "--local", "--facet", "tags")
	require.NoError(t, err, out)
	assert.Contains(t, out, "page/p1")
	assert.Contains(t, out, "facet tags:")
}

func TestSearch_InvalidFlags(t *testing.T) {
	isolate(t)

	_, err := execute(t, "search", "x", "--format", "xml", "--local")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = execute(t, "search", "x", "-p", "alice", "--mode", "fuzzy", "--local")
	assert.ErrorContains(t, err, "unknown search mode")
}

func TestSuggest_Local(t *testing.T) {
	dir := isolate(t)
	_, err := execute(t, "index", writeDocs(t, dir, pages), "-p", "alice", "--local")
	require.NoError(t, err)

	out, err := execute(t, "suggest", "kern", "-p", "alice", "--local")
	require.NoError(t, err, out)
	assert.Contains(t, out, "kernel")
}

func TestIndex_UnknownTypeIsSkipped(t *testing.T) {
	dir := isolate(t)

	out, err := execute(t, "index", writeDocs(t, dir, pages[0]), "-p", "alice", "--type", "nope", "--local")

	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 0 of 1 documents")
	assert.Contains(t, out, "1 documents were skipped")
}

func TestIndex_EmptyInput(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	_, err := execute(t, "index", path, "--local")
	assert.ErrorContains(t, err, "no documents")
}

func TestDelete_Local(t *testing.T) {
	// Given: indexed pages
	dir := isolate(t)
	_, err := execute(t, "index", writeDocs(t, dir, pages), "-p", "alice", "--local")
	require.NoError(t, err)

	// When: deleting p1
	out, err := execute(t, "delete", "p1", "-t", "page", "-p", "alice", "--local")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted 1 documents from alice/page")

	// Then: it is no longer found
	res := searchJSON(t, "kernel", "-p", "alice")
	assert.NotContains(t, hitIDs(res), "p1")
}

func TestDelete_RequiresType(t *testing.T) {
	isolate(t)
	_, err := execute(t, "delete", "p1", "--local")
	assert.ErrorContains(t, err, `"type" not set`)
}

func TestDirectory_AddQueryRemove(t *testing.T) {
	// Given: an identity added through the CLI
	isolate(t)
	out, err := execute(t, "directory", "add", "alice", "--email", "alice@example.com", "--display-name", "Alice Liddell", "--local")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Created alice")

	// When: querying by prefix
	out, err = execute(t, "directory", "query", "ali*", "--format", "json", "--local")
	require.NoError(t, err, out)

	// Then: the identity is found
	var ids []identity.Identity
	require.NoError(t, json.Unmarshal([]byte(out), &ids), out)
	require.Len(t, ids, 1)
	assert.Equal(t, "alice", ids[0].Name)
	assert.Equal(t, "alice@example.com", ids[0].Email)

	// When: updating and querying by the new email
	out, err = execute(t, "directory", "update", formatID(ids[0].ID), "--email", "al@corp.example", "--local")
	require.NoError(t, err, out)
	out, err = execute(t, "directory", "query", "al@corp.example", "--local")
	require.NoError(t, err, out)
	assert.Contains(t, out, "<al@corp.example>")

	// When: removing it
	out, err = execute(t, "directory", "remove", formatID(ids[0].ID), "--local")
	require.NoError(t, err, out)

	// Then: queries no longer return it
	out, err = execute(t, "directory", "query", "alice", "--local")
	require.NoError(t, err, out)
	assert.Contains(t, out, "no matching identities")
}

func TestDirectory_RestrictedIdentity(t *testing.T) {
	isolate(t)
	_, err := execute(t, "directory", "add", "ops", "--owner", "alice", "--local")
	require.NoError(t, err)

	out, err := execute(t, "directory", "query", "ops", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "no matching identities")

	out, err = execute(t, "directory", "query", "ops", "--restrict-to", "alice", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "[owner: alice]")
}

func TestDirectory_InvalidID(t *testing.T) {
	isolate(t)
	_, err := execute(t, "directory", "remove", "abc", "--local")
	assert.ErrorContains(t, err, `invalid identity id "abc"`)

	_, err = execute(t, "directory", "update", "0", "--local")
	assert.ErrorContains(t, err, "invalid identity id")
}

func TestStatus_NotRunning(t *testing.T) {
	isolate(t)

	out, err := execute(t, "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Daemon: stopped")
}

func TestServe_AnswersClients(t *testing.T) {
	// Given: a daemon serving in the background
	dir := isolate(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := executeContext(ctx, "serve", "--compact-idle", "0")
		done <- err
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Error("serve did not stop")
		}
	})

	client := daemon.NewClient(daemon.Config{SocketPath: filepath.Join(dir, "ik.sock"), Timeout: 5 * time.Second})
	require.Eventually(t, client.IsRunning, 10*time.Second, 50*time.Millisecond)

	// When: indexing and searching through the daemon
	out, err := execute(t, "index", writeDocs(t, dir, pages), "-p", "alice")
	require.NoError(t, err, out)
	out, err = execute(t, "search", "kernel", "-p", "alice", "--format", "json")
	require.NoError(t, err, out)

	// Then: results come back
	var res search.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, hitIDs(&res), "p1")

	// And: status reports a running daemon
	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon: running")
	assert.Contains(t, out, "memory")
}

func TestReadDocuments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"single", `{"id":"a","fields":{"title":"x"}}`, 1},
		{"array", `[{"id":"a"},{"id":"b"}]`, 2},
		{"empty", ``, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := readDocuments(strings.NewReader(tt.input), "-")
			require.NoError(t, err)
			assert.Len(t, docs, tt.want)
		})
	}

	_, err := readDocuments(strings.NewReader("{not json"), "-")
	assert.ErrorContains(t, err, "failed to parse document")

	_, err = readDocuments(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read documents")
}

func TestParseIdentityID(t *testing.T) {
	id, err := parseIdentityID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "-1", "0", "x1"} {
		_, err := parseIdentityID(bad)
		assert.Error(t, err, bad)
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
