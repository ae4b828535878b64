package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/indexkeeper/internal/daemon"
)

// StatusRenderer displays daemon status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays st. A nil st means the daemon is not running.
func (r *StatusRenderer) Render(st *daemon.StatusResult) error {
	if st == nil || !st.Running {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Header.Render("Daemon:"), r.renderState("stopped"))
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "%s %s\n\n", r.styles.Header.Render("Daemon:"), r.renderState("running"))
	r.row("PID", fmt.Sprintf("%d", st.PID))
	r.row("Uptime", st.Uptime)
	r.row("Origin", st.Origin)
	r.row("Transport", st.Transport)
	r.row("Types", fmt.Sprintf("%v", st.Types))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Directory:")
	r.row("  State", r.renderState(st.DirectoryState))
	r.row("  Entries", fmt.Sprintf("%d", st.DirectoryDocs))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Index cache:")
	r.row("  Open", fmt.Sprintf("%d/%d", st.Cache.Len, st.Cache.Capacity))
	r.row("  Hit rate", HitRate(st.Cache.Hits, st.Cache.Misses))
	r.row("  Evictions", fmt.Sprintf("%d", st.Cache.Evictions))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Change listener:")
	r.row("  Applied", fmt.Sprintf("%d", st.Listener.Applied))
	r.row("  Own", fmt.Sprintf("%d", st.Listener.Self))
	r.row("  Ignored", fmt.Sprintf("%d", st.Listener.Ignored))
	r.row("  Invalid", fmt.Sprintf("%d", st.Listener.Invalid))
	dropped := fmt.Sprintf("%d", st.Listener.Dropped)
	if st.Listener.Dropped > 0 {
		dropped = r.styles.Warning.Render(dropped)
	}
	r.row("  Dropped", dropped)
	_, _ = fmt.Fprintln(r.out)

	r.row("Compactions", fmt.Sprintf("%d", st.Compactions))

	if q := st.Queries; q != nil && q.TotalQueries > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Queries:")
		r.row("  Total", fmt.Sprintf("%d", q.TotalQueries))
		r.row("  Failed", fmt.Sprintf("%d", q.FailedQueries))
		r.row("  No results", fmt.Sprintf("%d (%.1f%%)", q.ZeroResultCount, q.ZeroResultPercentage()))
		r.row("  Repeats", fmt.Sprintf("%d", q.ExactRepeatCount))
		if len(q.TopTerms) > 0 {
			terms := make([]string, 0, len(q.TopTerms))
			for _, tc := range q.TopTerms {
				terms = append(terms, fmt.Sprintf("%s(%d)", tc.Term, tc.Count))
			}
			r.row("  Top terms", strings.Join(terms, " "))
		}
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(st *daemon.StatusResult) error {
	if st == nil {
		st = &daemon.StatusResult{}
	}
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(st)
}

func (r *StatusRenderer) row(label, value string) {
	_, _ = fmt.Fprintf(r.out, "  %s %s\n", r.styles.Label.Render(fmt.Sprintf("%-12s", label+":")), value)
}

// renderState colors a component state.
func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "ready", "running":
		return r.styles.Success.Render(state)
	case "building", "stopped", "unbuilt":
		return r.styles.Warning.Render(state)
	case "error":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

// HitRate formats hits/(hits+misses) as a percentage.
func HitRate(hits, misses uint64) string {
	total := hits + misses
	if total == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", float64(hits)/float64(total)*100)
}
