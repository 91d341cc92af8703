package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the process counters. A nil *Metrics is valid and
// records nothing, so components take it as an optional dependency.
type Metrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	agentRuns         metric.Int64Counter
	agentHops         metric.Int64Counter
	llmDuration       metric.Float64Histogram
	toolCalls         metric.Int64Counter
	toolDuration      metric.Float64Histogram
	searchRequests    metric.Int64Counter
	transportConnects metric.Int64Counter
	httpRequests      metric.Int64Counter
	httpDuration      metric.Float64Histogram
}

// NewMetrics creates the meters on a private prometheus registry.
func NewMetrics() (*Metrics, error) {
	registry := promclient.NewRegistry()

	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	meter := provider.Meter(DefaultServiceName)

	m := &Metrics{registry: registry, provider: provider}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.agentRuns, "infoxp_agent_runs_total", "Agent runs by outcome"},
		{&m.agentHops, "infoxp_agent_hops_total", "Model round trips made by agent runs"},
		{&m.toolCalls, "infoxp_tool_calls_total", "Tool calls by tool and status"},
		{&m.searchRequests, "infoxp_search_requests_total", "Search strategy attempts by outcome"},
		{&m.transportConnects, "infoxp_transport_connects_total", "Transport connection attempts by tier and outcome"},
		{&m.httpRequests, "infoxp_http_requests_total", "HTTP requests served"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.llmDuration, "infoxp_llm_request_duration_seconds", "Model request duration in seconds"},
		{&m.toolDuration, "infoxp_tool_duration_seconds", "Tool execution duration in seconds"},
		{&m.httpDuration, "infoxp_http_request_duration_seconds", "HTTP request duration in seconds"},
	}
	for _, h := range histograms {
		*h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	return m, nil
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) RecordAgentRun(ctx context.Context, hops int, outcome string) {
	if m == nil {
		return
	}
	m.agentRuns.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgentOutcome, outcome)))
	m.agentHops.Add(ctx, int64(hops))
}

func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String(AttrLLMModel, model)}
	if err != nil {
		attrs = append(attrs, attribute.String(AttrErrorType, "upstream"))
	}
	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, status string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.String(AttrToolStatus, status),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordSearch(ctx context.Context, strategy, outcome string) {
	if m == nil {
		return
	}
	m.searchRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordConnect(ctx context.Context, tier, outcome string) {
	if m == nil {
		return
	}
	m.transportConnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.Int(AttrStatusCode, status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}
