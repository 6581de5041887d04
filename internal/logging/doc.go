// Package logging configures structured slog output for sagitta.
//
// Logs are JSON lines written to a size-rotated file under ~/.sagitta/logs/ and,
// optionally, mirrored to stderr. Event messages are snake_case identifiers
// (sync_complete, query_complete) with typed attributes.
package logging
