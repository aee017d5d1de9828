// Package logging wraps log/slog with the field conventions used across
// the detection pipeline (detector_id, query_id, session_id, camera_id),
// replacing the teacher's ad-hoc log.Printf/[DEBUG]-prefixed messages
// with structured records while keeping the same terse, occasional-emoji
// register for lifecycle events.
package logging

import (
	"log/slog"
	"os"
)

func New(serviceName string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(h).With("service", serviceName)
}

func WithDetector(l *slog.Logger, detectorID string) *slog.Logger {
	return l.With("detector_id", detectorID)
}

func WithQuery(l *slog.Logger, queryID string) *slog.Logger {
	return l.With("query_id", queryID)
}

func WithCamera(l *slog.Logger, cameraID string) *slog.Logger {
	return l.With("camera_id", cameraID)
}

func WithSession(l *slog.Logger, sessionID string) *slog.Logger {
	return l.With("session_id", sessionID)
}
