package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/storyline/internal/pipeline"

// metrics holds the pipeline counters. Without an installed SDK they are no-ops.
type metrics struct {
	processed       metric.Int64Counter
	rejected        metric.Int64Counter
	failed          metric.Int64Counter
	clustersCreated metric.Int64Counter
	clustered       metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	m := &metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.processed, "storyline.articles.processed", "Articles persisted by the processor"},
		{&m.rejected, "storyline.articles.rejected", "Articles discarded by validation"},
		{&m.failed, "storyline.articles.failed", "Articles that failed processing"},
		{&m.clustersCreated, "storyline.clusters.created", "Clusters created by clustering passes"},
		{&m.clustered, "storyline.articles.clustered", "Articles attached to existing clusters"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("{article}"))
		if err != nil {
			log.Warn().Err(err).Str("instrument", c.name).Msg("Failed to create counter")
		}
		*c.dst = counter
	}
	return m
}

func (m *metrics) add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if m == nil || c == nil || n == 0 {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}
