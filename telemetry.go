package scenetwin

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/scenetwin")
var meter = otel.Meter("github.com/go-digitaltwin/scenetwin")

const (
	// permitModeKey labels permit measurements with the kind of access requested
	// ("read" or "write").
	permitModeKey = "permit.mode"
	// robotKey labels measurements with the name of the robot they concern.
	robotKey = "robot"
	// sceneKey labels publisher measurements with the name of the published scene.
	sceneKey = "scene"
)

var (
	// permitWait measures how long callers block acquiring a permit.
	permitWait metric.Float64Histogram
	// tickDuration measures a complete ingestion tick, from acquiring the write
	// permit to releasing it.
	tickDuration metric.Float64Histogram
	// lookupFailures counts pose lookups that did not yield a pose. Unlike the
	// log records, which are rate-limited, every failure is counted.
	lookupFailures metric.Int64Counter
	// failingLinks is the number of links whose latest lookup failed, as of the
	// end of the latest tick.
	failingLinks metric.Int64Gauge
	// publishDuration measures publishing a single scene snapshot, including
	// sending every per-robot message.
	publishDuration metric.Float64Histogram
	// publishFailures counts snapshots that could not be published entirely.
	publishFailures metric.Int64Counter
)

func init() {
	var err error
	permitWait, err = meter.Float64Histogram(
		"scene.permit.wait",
		metric.WithDescription("The time spent waiting to acquire a scene permit."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("scenetwin: failed to init 'scene.permit.wait' instrument: %v", err))
	}

	tickDuration, err = meter.Float64Histogram(
		"scene.ingest.tick.duration",
		metric.WithDescription("The duration of a single ingestion tick, while holding the write permit."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("scenetwin: failed to init 'scene.ingest.tick.duration' instrument: %v", err))
	}

	lookupFailures, err = meter.Int64Counter(
		"scene.ingest.lookup.failures",
		metric.WithDescription("The number of pose lookups that did not yield a pose."),
	)
	if err != nil {
		panic(fmt.Sprintf("scenetwin: failed to init 'scene.ingest.lookup.failures' instrument: %v", err))
	}

	failingLinks, err = meter.Int64Gauge(
		"scene.ingest.links.failing",
		metric.WithDescription("The number of links whose latest pose lookup failed."),
	)
	if err != nil {
		panic(fmt.Sprintf("scenetwin: failed to init 'scene.ingest.links.failing' instrument: %v", err))
	}

	publishDuration, err = meter.Float64Histogram(
		"scene.publish.duration",
		metric.WithDescription("The duration of publishing a scene snapshot, including every per-robot message."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("scenetwin: failed to init 'scene.publish.duration' instrument: %v", err))
	}

	publishFailures, err = meter.Int64Counter(
		"scene.publish.failures",
		metric.WithDescription("The number of scene snapshots that failed to publish."),
	)
	if err != nil {
		panic(fmt.Sprintf("scenetwin: failed to init 'scene.publish.failures' instrument: %v", err))
	}
}

// milliseconds converts d using floating-point division for higher precision
// than the Milliseconds method.
func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func measurePermitWait(ctx context.Context, mode string, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(permitModeKey, mode))
	permitWait.Record(ctx, milliseconds(d), metric.WithAttributeSet(attrs))
}

func measureFailingLinks(ctx context.Context, n int) {
	failingLinks.Record(ctx, int64(n))
}

func measureLookupFailure(ctx context.Context, robot string) {
	attrs := attribute.NewSet(attribute.String(robotKey, robot))
	lookupFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
}

// measurePublish records the duration of a successful publication, or counts a
// failed one; each record is labelled with the scene's name.
func measurePublish(ctx context.Context, scene string, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(sceneKey, scene))
	if succeeded {
		publishDuration.Record(ctx, milliseconds(d), metric.WithAttributeSet(attrs))
	} else {
		publishFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}

func measureTick(ctx context.Context, d time.Duration) {
	tickDuration.Record(ctx, milliseconds(d))
}
