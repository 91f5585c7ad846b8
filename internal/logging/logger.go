package logging

import (
	"io"
	"log/slog"
	"strings"
)

// NewJSONHandler writes records at level and above as JSON to w.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Setup installs a JSON logger on w as the slog default and returns it.
func Setup(w io.Writer, env string) *slog.Logger {
	log := slog.New(NewJSONHandler(w, LevelFor(env)))
	slog.SetDefault(log)
	return log
}

// LevelFor logs debug records outside production.
func LevelFor(env string) slog.Level {
	if strings.EqualFold(env, "production") {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
