package scenetwin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrPoseUnavailable is the error of a Lookup that failed without a more
// specific reason.
var ErrPoseUnavailable = errors.New("pose unavailable")

// A Lookup is the result of querying a PoseSource: either a pose found at some
// time, or the reason no pose is available. The zero Lookup is unavailable.
type Lookup struct {
	pose  Pose
	stamp time.Time
	err   error
	found bool
}

// Found returns a successful Lookup of the given pose, as known at stamp.
func Found(p Pose, stamp time.Time) Lookup {
	return Lookup{pose: p, stamp: stamp, found: true}
}

// Unavailable returns a failed Lookup. A nil err is replaced by
// ErrPoseUnavailable.
func Unavailable(err error) Lookup {
	if err == nil {
		err = ErrPoseUnavailable
	}
	return Lookup{err: err}
}

// Pose returns the pose found and the time the source knew it at. ok is false
// if the lookup failed.
func (l Lookup) Pose() (p Pose, stamp time.Time, ok bool) {
	return l.pose, l.stamp, l.found
}

// Err returns nil if the lookup succeeded, or the reason it failed.
func (l Lookup) Err() error {
	if l.found {
		return nil
	}
	if l.err == nil {
		return ErrPoseUnavailable
	}
	return l.err
}

// A PoseSource answers "where is node relative to reference, as of the most
// recent information". Implementations must honour the context's deadline: the
// Ingestor bounds every lookup, and a lookup that ignores its deadline stalls
// the whole tick.
type PoseSource interface {
	LookupLatest(ctx context.Context, reference, node string) Lookup
}

// PoseSourceFunc adapts a function to a PoseSource.
type PoseSourceFunc func(ctx context.Context, reference, node string) Lookup

func (f PoseSourceFunc) LookupLatest(ctx context.Context, reference, node string) Lookup {
	return f(ctx, reference, node)
}

// A TickReport summarises a single ingestion tick.
type TickReport struct {
	// Tick is the tick's sequence number, and Stamp is the scene time every
	// sample committed during the tick carries.
	Tick  uint64
	Stamp time.Time
	// Updated lists the links whose transform was refreshed, and Failed the links
	// that kept their previous transform, both in scene iteration order.
	Updated []string
	Failed  []string
	// Duration is the time the write permit was held.
	Duration time.Duration
}

// Default values of the Ingestor's options.
const (
	DefaultTickInterval          = 5 * time.Millisecond
	DefaultLookupTimeout         = 2 * time.Millisecond
	DefaultFailureReportInterval = 5 * time.Second
)

// An Ingestor periodically refreshes the transforms of every link in a Scene
// from a PoseSource. It is the Scene's only periodic writer.
//
// Each tick reads the scene clock once, then holds a single WritePermit while
// it looks up every link of every robot; readers therefore observe either all
// of a tick's samples or none of them. A link whose lookup fails keeps its
// previous transform.
type Ingestor struct {
	scene     *Scene
	source    PoseSource
	reference string

	interval      time.Duration
	lookupTimeout time.Duration
	reporter      *failureReporter
}

// An IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithTickInterval sets the period of the Ingestor's loop.
func WithTickInterval(d time.Duration) IngestorOption {
	return func(in *Ingestor) {
		if d > 0 {
			in.interval = d
		}
	}
}

// WithLookupTimeout bounds every pose lookup. A zero or negative d disables
// the bound, leaving it to the PoseSource.
func WithLookupTimeout(d time.Duration) IngestorOption {
	return func(in *Ingestor) { in.lookupTimeout = d }
}

// WithFailureReportInterval sets how often the failures of a single link are
// logged. A zero d logs every failure.
func WithFailureReportInterval(d time.Duration) IngestorOption {
	return func(in *Ingestor) { in.reporter = newFailureReporter(d) }
}

// NewIngestor returns an Ingestor refreshing the given scene from source,
// expressing every link relative to the reference frame (e.g. "world").
func NewIngestor(scene *Scene, source PoseSource, reference string, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		scene:         scene,
		source:        source,
		reference:     reference,
		interval:      DefaultTickInterval,
		lookupTimeout: DefaultLookupTimeout,
		reporter:      newFailureReporter(DefaultFailureReportInterval),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Tick performs a single ingestion tick and reports its outcome.
//
// Once started, a tick always completes: cancelling ctx does not abort pending
// lookups, which remain bounded by the lookup timeout instead.
func (in *Ingestor) Tick(ctx context.Context) TickReport {
	ctx, span := tracer.Start(ctx, "Ingestor.Tick", trace.WithAttributes(
		attribute.String("reference.frame", in.reference),
	))
	defer span.End()

	now := in.scene.Time()
	p := in.scene.WritePermit(ctx)
	defer p.Release()

	start := time.Now()
	tick, stamp := p.BeginTick(now)
	report := TickReport{Tick: tick, Stamp: stamp}

	lookupCtx := context.WithoutCancel(ctx)
	for _, r := range p.Robots() {
		for _, l := range r.links {
			if err := in.refresh(lookupCtx, p, l.Name); err != nil {
				in.reporter.failed(ctx, r.Name(), l.Name, stamp, err)
				report.Failed = append(report.Failed, l.Name)
				continue
			}
			in.reporter.recovered(ctx, r.Name(), l.Name, stamp)
			report.Updated = append(report.Updated, l.Name)
		}
	}

	report.Duration = time.Since(start)
	measureTick(ctx, report.Duration)
	measureFailingLinks(ctx, in.reporter.failing())
	span.SetAttributes(
		attribute.Int64("tick", int64(tick)),
		attribute.Int("nodes.updated", len(report.Updated)),
		attribute.Int("nodes.failed", len(report.Failed)),
	)
	return report
}

// refresh looks up a single link and commits its pose through p.
func (in *Ingestor) refresh(ctx context.Context, p *WritePermit, node string) error {
	if in.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.lookupTimeout)
		defer cancel()
	}
	res := in.source.LookupLatest(ctx, in.reference, node)
	pose, _, ok := res.Pose()
	if !ok {
		return res.Err()
	}
	return p.Set(node, pose)
}

// Exec runs the ingestion loop, one tick per interval, until l is stopped.
// Shutdown is observed between ticks only.
func (in *Ingestor) Exec(l *component.L) {
	logger := component.Logger(l.Context()).With(slog.String("reference-frame", in.reference))
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()

	logger.Info("Ingesting poses", slog.Duration("tick-interval", in.interval))
	for l.Continue() {
		select {
		case <-l.Context().Done():
			return
		case <-ticker.C:
		}
		report := in.Tick(l.Context())
		logger.Debug("Tick committed",
			slog.Uint64("tick", report.Tick),
			slog.Time("stamp", report.Stamp),
			slog.Int("updated", len(report.Updated)),
			slog.Int("failed", len(report.Failed)),
			slog.Duration("duration", report.Duration),
		)
	}
}

var _ component.Procedure = (*Ingestor)(nil)
