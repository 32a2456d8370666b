package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_NilWriterIsNoop(t *testing.T) {
	shutdown, err := Setup(nil, "svc")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(&buf, "earnings-agent")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit.span")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "unit.span")
	assert.Contains(t, buf.String(), "earnings-agent")
}
