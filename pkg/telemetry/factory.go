package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// CampaignTracer opens one span per fuzzing campaign and lets components
// attach summary attributes when the run ends. It degrades to a no-op
// when telemetry is not configured.
type CampaignTracer interface {
	Start(ctx context.Context, name string) context.Context
	SetAttributes(attrs ...attribute.KeyValue)
	End()
}

type CampaignTracerParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewCampaignTracer(p CampaignTracerParams) CampaignTracer {
	if p.Telemetry == nil || p.Telemetry.GetTracer() == nil {
		return &noopTracer{}
	}
	return &campaignTracer{tracer: p.Telemetry.GetTracer()}
}

type campaignTracer struct {
	tracer trace.Tracer
	span   trace.Span
}

func (t *campaignTracer) Start(ctx context.Context, name string) context.Context {
	ctx, t.span = t.tracer.Start(ctx, name)
	return ctx
}

func (t *campaignTracer) SetAttributes(attrs ...attribute.KeyValue) {
	if t.span != nil {
		t.span.SetAttributes(attrs...)
	}
}

func (t *campaignTracer) End() {
	if t.span != nil {
		t.span.End()
	}
}

// noopTracer keeps callers unconditional when telemetry is disabled.
type noopTracer struct{}

func (t *noopTracer) Start(ctx context.Context, name string) context.Context { return ctx }
func (t *noopTracer) SetAttributes(attrs ...attribute.KeyValue)              {}
func (t *noopTracer) End()                                                   {}
