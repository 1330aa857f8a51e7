package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nstogner/devcli/pkg/config"
)

// defaultLogFile receives logs when the terminal is taken. It lives in
// config.StateDir so it never lands in the project root.
const defaultLogFile = "devcli.log"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging installs the default slog logger. Logs go to cfg.File when
// set, else to fallback, else to defaultLogFile in the state directory.
func setupLogging(cfg config.LogConfig, fallback io.Writer) (io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch {
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	case fallback != nil:
		w = fallback
	default:
		path, err := config.StatePath(defaultLogFile)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("Logging initialized", "level", level)
	return closer, nil
}
