package helper

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPrettyHandler(t *testing.T) {
	t.Run("Create PrettyHandler with default options", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		assert.NotNil(t, handler, "Expected NewPrettyHandler to return a non-nil handler")
		assert.NotNil(t, handler.Handler, "Expected handler to have a non-nil Handler field")
		assert.NotNil(t, handler.l, "Expected handler to have a non-nil logger field")
	})

	t.Run("Level option is respected by Enabled", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{SlogOpts: slog.HandlerOptions{Level: slog.LevelWarn}})

		assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo), "Expected info to be disabled")
		assert.True(t, handler.Enabled(context.Background(), slog.LevelError), "Expected error to be enabled")
	})
}

func TestPrettyHandlerHandle(t *testing.T) {
	ctx := context.Background()

	levels := []struct {
		level  slog.Level
		prefix string
		attr   slog.Attr
		want   string
	}{
		{slog.LevelDebug, "DEBUG:", slog.String("entity", "Acme Corp"), "Acme Corp"},
		{slog.LevelInfo, "INFO:", slog.Int("merged", 42), "42"},
		{slog.LevelWarn, "WARN:", slog.Bool("degraded", true), "true"},
		{slog.LevelError, "ERROR:", slog.String("error", "provider down"), "provider down"},
	}
	for _, tc := range levels {
		t.Run("Handle "+tc.prefix+" level log", func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewPrettyHandler(&buf, PrettyHandlerOptions{SlogOpts: slog.HandlerOptions{Level: slog.LevelDebug}})

			record := slog.NewRecord(time.Now(), tc.level, "resolver finished", 0)
			record.AddAttrs(tc.attr)

			err := handler.Handle(ctx, record)

			assert.NoError(t, err, "Expected Handle to not return an error")
			output := buf.String()
			assert.Contains(t, output, tc.prefix, "Expected output to contain the level")
			assert.Contains(t, output, "resolver finished", "Expected output to contain the message")
			assert.Contains(t, output, tc.attr.Key, "Expected output to contain attribute key")
			assert.Contains(t, output, tc.want, "Expected output to contain attribute value")
		})
	}

	t.Run("Handle log with no attributes", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		err := handler.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "simple message", 0))

		assert.NoError(t, err)
		assert.Contains(t, buf.String(), "{}", "Expected output to contain empty JSON object for attributes")
	})

	t.Run("Handle log formats timestamp correctly", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		err := handler.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "time test", 0))

		assert.NoError(t, err)
		assert.Regexp(t, `\[\d{2}:\d{2}:\d{2}\.\d{3}\]`, buf.String(), "Expected output to contain properly formatted timestamp")
	})
}

func TestPrettyHandlerWithAttrs(t *testing.T) {
	t.Run("Logger attributes are printed", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewPrettyHandler(&buf, PrettyHandlerOptions{}))

		logger.With(slog.String("component", "fusion")).Info("fused context", slog.Int("items", 7))

		output := buf.String()
		assert.Contains(t, output, "INFO:")
		assert.Contains(t, output, "component", "Expected With attributes to be kept")
		assert.Contains(t, output, "fusion")
		assert.Contains(t, output, "items")
	})

	t.Run("DiscardLogger and OrDiscard never panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			DiscardLogger().Error("dropped")
			OrDiscard(nil).Info("dropped")
		})
	})
}
