package tfbuffer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/go-digitaltwin/scenetwin/tfbuffer")

var (
	// posesReceived counts poses received from publishers, labelled with the
	// publisher and whether the pose was valid.
	posesReceived metric.Int64Counter
)

func init() {
	var err error
	posesReceived, err = meter.Int64Counter(
		"tfbuffer.poses.received",
		metric.WithDescription("The number of stamped poses received from publishers."),
	)
	if err != nil {
		panic(fmt.Sprintf("tfbuffer: failed to init 'tfbuffer.poses.received' instrument: %v", err))
	}
}

func measureInsert(ctx context.Context, source string, valid, invalid int) {
	if valid > 0 {
		attrs := attribute.NewSet(attribute.String("source", source), attribute.Bool("valid", true))
		posesReceived.Add(ctx, int64(valid), metric.WithAttributeSet(attrs))
	}
	if invalid > 0 {
		attrs := attribute.NewSet(attribute.String("source", source), attribute.Bool("valid", false))
		posesReceived.Add(ctx, int64(invalid), metric.WithAttributeSet(attrs))
	}
}
