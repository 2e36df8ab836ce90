package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: "bogus", Output: buf})

	require.Equal(t, zerolog.InfoLevel, log.GetLevel())

	log.Debug().Msg("hidden")
	require.Zero(t, buf.Len())

	log.Info().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestNewHonoursLevel(t *testing.T) {
	log := New(Options{Level: "WARN", Output: &bytes.Buffer{}})
	require.Equal(t, zerolog.WarnLevel, log.GetLevel())
}

func TestNewConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Format: "console", Output: buf})

	log.Info().Str("definition_id", "rec-1").Msg("console line")
	require.Contains(t, buf.String(), "console line")
	require.NotContains(t, buf.String(), `"message"`)
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx, Nop())
	log.Info().Msg("from context")
	require.Contains(t, buf.String(), "from context")
}

func TestFromContextFallback(t *testing.T) {
	buf := &bytes.Buffer{}
	log := FromContext(context.Background(), NewWithWriter(buf))
	log.Info().Msg("fallback")
	require.Contains(t, buf.String(), "fallback")
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"run_id": "run-123",
		"today":  "2024-03-15",
	})

	log.Info().Msg("run started")

	out := buf.String()
	require.Contains(t, out, `"run_id":"run-123"`)
	require.Contains(t, out, `"today":"2024-03-15"`)
}
