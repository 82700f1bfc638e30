package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/blueberrycongee/recall/internal/config"
)

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	assert.NotNil(t, tp.Tracer())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.Equal(t, "recall", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestTracingConfigFrom(t *testing.T) {
	cfg := TracingConfigFrom(config.DefaultConfig().Tracing)
	assert.Equal(t, DefaultTracingConfig(), cfg)
}

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	rec := installRecorder(t)

	_, span := StartSpan(context.Background(), "search", attribute.String("target", "content"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "search", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("target", "content"))
}

func TestStartModelSpan(t *testing.T) {
	rec := installRecorder(t)

	_, span := StartModelSpan(context.Background(), "chat.completion", ModelSpanAttributes{
		Backend:     "gemini",
		Model:       "gemini-2.5-flash",
		MaxTokens:   512,
		Temperature: 0.7,
	})
	RecordError(span, errors.New("upstream down"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	attrs := spans[0].Attributes()
	assert.Contains(t, attrs, attribute.String("gen_ai.request.model", "gemini-2.5-flash"))
	assert.Contains(t, attrs, attribute.Int("gen_ai.request.max_tokens", 512))
	assert.Equal(t, otelcodes.Error, spans[0].Status().Code)
}

func TestRecordError_Nil(t *testing.T) {
	rec := installRecorder(t)

	_, span := StartSpan(context.Background(), "noop")
	RecordError(span, nil)
	span.End()

	assert.Equal(t, otelcodes.Unset, rec.Ended()[0].Status().Code)
}
