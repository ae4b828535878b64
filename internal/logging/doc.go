// Package logging configures slog for indexkeeper: JSON records written to a
// size-rotated file, optionally mirrored to stderr, plus a viewer for
// reading those records back.
package logging
