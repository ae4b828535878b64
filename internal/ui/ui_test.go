package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/bus"
	"github.com/Aman-CERP/indexkeeper/internal/cache"
	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/telemetry"
)

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
	assert.False(t, UseColor(&bytes.Buffer{}))
}

func TestStatusRenderer_NotRunning(t *testing.T) {
	// Given: no status
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	// When: rendering
	require.NoError(t, r.Render(nil))

	// Then: daemon is reported stopped
	assert.Contains(t, buf.String(), "Daemon: stopped")
}

func TestStatusRenderer_Running(t *testing.T) {
	// Given: a populated status
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)
	st := &daemon.StatusResult{
		Running:        true,
		PID:            4242,
		Uptime:         "1m0s",
		Origin:         "a1b2",
		Transport:      "nats",
		Types:          []string{"page", "snippet"},
		DirectoryState: "ready",
		DirectoryDocs:  17,
		Cache:          cache.Stats{Len: 3, Capacity: 64, Hits: 3, Misses: 1, Evictions: 2},
		Listener:       bus.ListenerStats{Applied: 5, Self: 2, Dropped: 1},
		Compactions:    4,
		Queries: &telemetry.Snapshot{
			TotalQueries:    4,
			ZeroResultCount: 1,
			TopTerms:        []telemetry.TermCount{{Term: "kernel", Count: 3}},
		},
	}

	// When: rendering
	require.NoError(t, r.Render(st))

	// Then: every section is present
	out := buf.String()
	assert.Contains(t, out, "Daemon: running")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "nats")
	assert.Contains(t, out, "[page snippet]")
	assert.Contains(t, out, "17")
	assert.Contains(t, out, "3/64")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "Dropped:")
	assert.Contains(t, out, "1 (25.0%)")
	assert.Contains(t, out, "kernel(3)")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.RenderJSON(&daemon.StatusResult{Running: true, PID: 7}))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, true, parsed["running"])
	assert.Equal(t, float64(7), parsed["pid"])
}

func TestHitRate(t *testing.T) {
	assert.Equal(t, "n/a", HitRate(0, 0))
	assert.Equal(t, "50.0%", HitRate(1, 1))
	assert.Equal(t, "100.0%", HitRate(4, 0))
}

func TestResultRenderer_RenderSearch(t *testing.T) {
	// Given: a result with hits, suggestions, facets and a failed type
	buf := &bytes.Buffer{}
	r := NewResultRenderer(buf, true)
	res := &search.Result{
		Hits: []*search.Hit{
			{Type: "page", ID: "p1", Score: 1.5, Fields: map[string]any{"title": "Kernel notes"}},
			{Type: "snippet", ID: "s9", Score: 0.25},
		},
		Total:       2,
		Facets:      map[string]map[string]int{"tags": {"linux": 2, "go": 1}},
		Suggestions: map[string]uint64{"kernel": 3},
		Failed:      []string{"broken"},
	}

	// When: rendering
	require.NoError(t, r.RenderSearch(res))

	// Then: each part is printed in order
	out := buf.String()
	assert.Contains(t, out, "Did you mean: kernel")
	assert.Contains(t, out, "2 hits")
	assert.Contains(t, out, "page/p1")
	assert.Contains(t, out, "title: Kernel notes")
	assert.Contains(t, out, "snippet/s9")
	assert.Contains(t, out, "facet tags:")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("linux")), bytes.Index(buf.Bytes(), []byte("go ")))
	assert.Contains(t, out, "Failed types: broken")
}

func TestResultRenderer_RenderSearch_Nil(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewResultRenderer(buf, true).RenderSearch(nil))
	assert.Contains(t, buf.String(), "0 hits")
}

func TestResultRenderer_RenderSuggestions(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewResultRenderer(buf, true)

	require.NoError(t, r.RenderSuggestions(&search.Result{Suggestions: map[string]uint64{"kernel": 1, "kern": 4}}))

	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("kern ")), bytes.Index(buf.Bytes(), []byte("kernel")))
	assert.Contains(t, out, "4")

	buf.Reset()
	require.NoError(t, r.RenderSuggestions(nil))
	assert.Contains(t, buf.String(), "no suggestions")
}

func TestResultRenderer_RenderIdentities(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewResultRenderer(buf, true)

	require.NoError(t, r.RenderIdentities([]identity.Identity{
		{ID: 3, Name: "alice", DisplayName: "Alice A", Email: "alice@example.com"},
		{ID: 4, Name: "ops", Owner: "alice"},
	}))

	out := buf.String()
	assert.Contains(t, out, "alice (Alice A) <alice@example.com>")
	assert.Contains(t, out, "[owner: alice]")

	buf.Reset()
	require.NoError(t, r.RenderIdentities(nil))
	assert.Contains(t, buf.String(), "no matching identities")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abcdef...", truncate("abcdefghijkl", 9))
}
