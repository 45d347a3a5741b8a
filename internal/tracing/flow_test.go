package tracing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestFlowTracerBeginEndDoesNotPanic(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())
	ft := NewFlowTracer()

	assert.NotPanics(t, func() {
		ft.BeginFlow(0, FlowAttributes{Size: 1000, DSCP: 10, RateMbps: 0}, 0)
		ft.EndFlow(0, time.Now())
	})
}

func TestFlowTracerEndUnknownFlowIsNoop(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())
	ft := NewFlowTracer()

	assert.NotPanics(t, func() {
		ft.EndFlow(42, time.Now())
	})
}

func TestFlowTracerFlushClosesOpenSpans(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())
	ft := NewFlowTracer()

	ft.BeginFlow(0, FlowAttributes{Size: 1000}, 0)
	ft.BeginFlow(1, FlowAttributes{Size: 2000}, 0)
	ft.EndFlow(0, time.Now())

	assert.NotPanics(t, func() {
		ft.Flush()
	})

	ft.mu.Lock()
	remaining := len(ft.spans)
	ft.mu.Unlock()
	assert.Equal(t, 0, remaining)
}
