// Package logger builds the service's slog loggers: text output for dev and
// staging, JSON for prod.
package logger
