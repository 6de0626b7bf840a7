package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentd"

// StartRunSpan starts a span for an agent run.
func StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
		),
	)
}

// StartGitSpan starts a span for a git coordinator operation.
func StartGitSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "git."+op,
		trace.WithAttributes(
			attribute.String("git.op", op),
		),
	)
}
