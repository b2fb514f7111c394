package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/utils/logging"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		level  string
		expect slog.Level
		valid  bool
	}{
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"WARNING", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			lvl, err := logging.ParseLevel(tc.level)
			if tc.valid {
				gt.NoError(t, err)
			} else {
				gt.Error(t, err)
			}
			gt.Equal(t, lvl, tc.expect)
		})
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(slog.LevelWarn, buf)

	logger.Info("info message")
	logger.Warn("warn message")

	gt.S(t, buf.String()).NotContains("info message")
	gt.S(t, buf.String()).Contains("warn message")
}

func TestWithAndFrom(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(slog.LevelDebug, buf).With("component", "supervisor")
	ctx := logging.With(context.Background(), logger)

	retrieved := logging.From(ctx)
	gt.Equal(t, retrieved, logger)

	retrieved.Info("context message")
	gt.S(t, buf.String()).Contains("context message")
	gt.S(t, buf.String()).Contains("supervisor")
}

func TestFromUsesDefault(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	buf := &bytes.Buffer{}
	custom := logging.New(slog.LevelInfo, buf)
	logging.SetDefault(custom)

	logging.From(context.Background()).Info("from default")
	gt.S(t, buf.String()).Contains("from default")
}

func TestDiscard(t *testing.T) {
	logger := logging.Discard()
	gt.V(t, logger).NotNil()
	logger.Error("dropped")
}
