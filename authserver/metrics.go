package authserver

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics wraps the OpenTelemetry counters for the authorization server.
// With no meter provider configured the instruments are no-ops.
type Metrics struct {
	clientsRegistered metric.Int64Counter
	codesIssued       metric.Int64Counter
	tokensIssued      metric.Int64Counter
	introspections    metric.Int64Counter
}

func NewMetrics() *Metrics {
	meter := otel.Meter("github.com/protocolkit/mcpd/authserver")

	m := &Metrics{}
	m.clientsRegistered, _ = meter.Int64Counter("authserver.clients.registered",
		metric.WithDescription("Number of dynamically registered clients"))
	m.codesIssued, _ = meter.Int64Counter("authserver.codes.issued",
		metric.WithDescription("Number of authorization codes issued"))
	m.tokensIssued, _ = meter.Int64Counter("authserver.tokens.issued",
		metric.WithDescription("Number of access tokens issued"))
	m.introspections, _ = meter.Int64Counter("authserver.introspections",
		metric.WithDescription("Number of token introspection lookups"))
	return m
}

func (m *Metrics) ClientRegistered(ctx context.Context) {
	m.clientsRegistered.Add(ctx, 1)
}

func (m *Metrics) CodeIssued(ctx context.Context) {
	m.codesIssued.Add(ctx, 1)
}

func (m *Metrics) TokenIssued(ctx context.Context) {
	m.tokensIssued.Add(ctx, 1)
}

func (m *Metrics) Introspection(ctx context.Context, active bool) {
	m.introspections.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}
