package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FlowTracer emits one span per request flow, keyed by the flow's plan
// index: started at dispatch, ended at receipt. A flow never acknowledged
// by shutdown is closed out by Flush with an "unfinished" attribute
// instead of a synthesized stop time.
type FlowTracer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[int]trace.Span
}

// NewFlowTracer returns a tracer drawing from the global otel
// TracerProvider (set by InitTracer). Safe to use even if tracing was
// never initialized: spans are then no-ops.
func NewFlowTracer() *FlowTracer {
	return &FlowTracer{
		tracer: otel.Tracer("trafficgen/flow"),
		spans:  make(map[int]trace.Span),
	}
}

// FlowAttributes is the subset of a plan entry needed to tag a span,
// kept independent of the plan package to avoid an import cycle.
type FlowAttributes struct {
	Size     uint32
	DSCP     uint32
	RateMbps uint32
}

// BeginFlow starts the span for one flow at dispatch time.
func (ft *FlowTracer) BeginFlow(flowIndex int, attrs FlowAttributes, serverIndex int) {
	_, span := ft.tracer.Start(context.Background(), "flow",
		trace.WithAttributes(
			attribute.Int("flow.id", flowIndex+1),
			attribute.Int64("flow.size", int64(attrs.Size)),
			attribute.Int("flow.server", serverIndex),
			attribute.Int64("flow.dscp", int64(attrs.DSCP)),
			attribute.Int64("flow.rate_mbps", int64(attrs.RateMbps)),
		),
	)

	ft.mu.Lock()
	ft.spans[flowIndex] = span
	ft.mu.Unlock()
}

// EndFlow ends the span for one flow at its receipt time.
func (ft *FlowTracer) EndFlow(flowIndex int, stop time.Time) {
	ft.mu.Lock()
	span, ok := ft.spans[flowIndex]
	if ok {
		delete(ft.spans, flowIndex)
	}
	ft.mu.Unlock()
	if !ok {
		return
	}
	span.End(trace.WithTimestamp(stop))
}

// Flush closes out any spans still open at shutdown, tagging them
// unfinished rather than inventing a stop time, then force-flushes the
// tracer provider so batched spans are exported before the process exits.
func (ft *FlowTracer) Flush() {
	ft.mu.Lock()
	for flowIndex, span := range ft.spans {
		span.SetAttributes(attribute.Bool("unfinished", true))
		span.End()
		delete(ft.spans, flowIndex)
	}
	ft.mu.Unlock()

	if Provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = Provider.ForceFlush(ctx)
	}
}
