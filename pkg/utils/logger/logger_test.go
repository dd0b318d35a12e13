package logger

import (
	"context"
	"path/filepath"
	"testing"

	"proofjudge/pkg/utils/contextkey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetGlobal(FromZap(zap.New(core)))
	t.Cleanup(func() { SetGlobal(nil) })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.SubmissionID, int64(42))
	Warn(ctx, "snapshot dropped", zap.String("reason", "stale"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, int64(42), fields["submission_id"])
	assert.Equal(t, "stale", fields["reason"])
}

func TestNilGlobalLoggerIsSilent(t *testing.T) {
	SetGlobal(nil)
	Info(context.Background(), "ignored")
	assert.NoError(t, Sync())
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.log")
	l, err := NewLogger(Config{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)
	l.WithContext(context.Background()).Info("hello")
	require.FileExists(t, path)
}
