package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTelemetry_NoEndpoint(t *testing.T) {
	t.Parallel()

	tel, err := NewTelemetry(t.Context(), "", "courier-test")
	require.NoError(t, err)
	require.NotNil(t, tel.TracerProvider)

	_, span := tel.TracerProvider.Tracer(tracerName).Start(context.Background(), "healthz")
	span.End()

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewTelemetry_InvalidEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewTelemetry(t.Context(), "http://", "courier-test")
	require.Error(t, err)
}

func TestTelemetry_NilIsSafe(t *testing.T) {
	t.Parallel()

	var tel *Telemetry
	tel.SetGlobal()
	require.NoError(t, tel.Shutdown(context.Background()))
}
