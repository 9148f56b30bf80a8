package broker

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "storefront/server/internal/broker"

type brokerMetrics struct {
	requests  metric.Int64Counter
	exchanges metric.Int64Counter
	duration  metric.Float64Histogram
}

func newBrokerMetrics(mp metric.MeterProvider) *brokerMetrics {
	meter := mp.Meter(instrumentationName)

	requests, err := meter.Int64Counter("broker.token.requests",
		metric.WithDescription("Access token requests by cache result"))
	if err != nil {
		log.Printf("[broker] metric broker.token.requests unavailable: %v", err)
		requests, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("broker.token.requests")
	}

	exchanges, err := meter.Int64Counter("broker.token.exchanges",
		metric.WithDescription("Assertion exchanges against the token endpoint by outcome"))
	if err != nil {
		log.Printf("[broker] metric broker.token.exchanges unavailable: %v", err)
		exchanges, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("broker.token.exchanges")
	}

	duration, err := meter.Float64Histogram("broker.token.exchange.duration",
		metric.WithDescription("Token exchange round trip"),
		metric.WithUnit("ms"))
	if err != nil {
		log.Printf("[broker] metric broker.token.exchange.duration unavailable: %v", err)
		duration, _ = noop.NewMeterProvider().Meter(instrumentationName).Float64Histogram("broker.token.exchange.duration")
	}

	return &brokerMetrics{requests: requests, exchanges: exchanges, duration: duration}
}

func (m *brokerMetrics) recordRequest(ctx context.Context, result string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *brokerMetrics) recordExchange(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.exchanges.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}
