// Package ui renders daemon status, search results and directory entries
// for the terminal.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// UseColor reports whether styled output should be written to out.
func UseColor(out io.Writer) bool {
	if DetectNoColor() {
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
