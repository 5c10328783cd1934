package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, "rentalhub-test", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, span := otel.Tracer("rentalhub/test").Start(ctx, "test.span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(ctx))
}

func TestSetupWithEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, "rentalhub-test", "http://127.0.0.1:4318", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}
