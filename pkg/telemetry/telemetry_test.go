package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider(&buf, "fixos-test", "0.0.1")
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "fixos.collaborator.evaluate")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "fixos.collaborator.evaluate")
	assert.Contains(t, buf.String(), "fixos-test")
}

func TestInitDisabled(t *testing.T) {
	t.Setenv("FIXOS_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "fixos", "dev"))
	_, span := Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	Shutdown(context.Background())
}
