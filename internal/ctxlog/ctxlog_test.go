package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_ReturnsEmbeddedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("hello", "runID", "r-1")

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "runID=r-1")
}

func TestFromContext_MissingLoggerDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		FromContext(context.Background()).Info("dropped")
	})
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	ctx = With(ctx, "pipeline", "songs")
	FromContext(ctx).Info("tick")

	assert.Contains(t, buf.String(), "pipeline=songs")
}
