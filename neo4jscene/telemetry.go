package neo4jscene

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/scenetwin/neo4jscene")
var meter = otel.Meter("github.com/go-digitaltwin/scenetwin/neo4jscene")

var (
	// exportDuration measures writing a complete scene to the database.
	exportDuration metric.Float64Histogram
	// exportFailures counts exports that were rolled back.
	exportFailures metric.Int64Counter
)

func init() {
	var err error
	exportDuration, err = meter.Float64Histogram(
		"neo4jscene.export.duration",
		metric.WithDescription("The duration of exporting a scene to neo4j, in a single transaction."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("neo4jscene: failed to init 'neo4jscene.export.duration' instrument: %v", err))
	}

	exportFailures, err = meter.Int64Counter(
		"neo4jscene.export.failures",
		metric.WithDescription("The number of scene exports that failed."),
	)
	if err != nil {
		panic(fmt.Sprintf("neo4jscene: failed to init 'neo4jscene.export.failures' instrument: %v", err))
	}
}

func measureExport(ctx context.Context, database string, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String("neo4j.database", database))
	if succeeded {
		exportDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
	} else {
		exportFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}
