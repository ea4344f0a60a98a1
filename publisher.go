package scenetwin

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
	"golang.org/x/sync/errgroup"
)

// DefaultPublishInterval is roughly the frame period of a 30Hz front end.
const DefaultPublishInterval = 33 * time.Millisecond

// RobotChanged notifies front ends about the state of a single robot of a
// scene. Publishers send one RobotChanged per robot every time the scene
// changes; the message carries the robot's complete state, not a delta.
type RobotChanged struct {
	// Scene names the published scene (e.g. "cell-7").
	Scene string
	// Version, Tick and Stamp identify the scene state the robot was captured
	// from; see SceneSnapshot.
	Version uint64
	Tick    uint64
	Stamp   time.Time
	Robot   RobotSnapshot
}

// A Publisher periodically snapshots a Scene and publishes the state of every
// robot to a topic, for front ends that cannot share the Scene's memory.
//
// A Publisher skips publication while the scene is unchanged. It is not safe
// for concurrent use; run it as a single component.Procedure.
type Publisher struct {
	name     string
	scene    *Scene
	sink     *pubsub.Topic
	interval time.Duration

	published   bool
	lastVersion uint64
}

// NewPublisher returns a Publisher sending the robots of scene to sink every
// interval (DefaultPublishInterval if interval is not positive). The publisher
// measures the duration of each publication and labels each measurement
// record with the given scene name.
func NewPublisher(name string, scene *Scene, sink *pubsub.Topic, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Publisher{
		name:     name,
		scene:    scene,
		sink:     sink,
		interval: interval,
	}
}

// Exec publishes the scene every interval until l is stopped. A failed
// publication is logged and retried on the next interval.
func (p *Publisher) Exec(l *component.L) {
	logger := component.Logger(l.Context()).With(slog.String("scene", p.name))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for l.Continue() {
		select {
		case <-l.Context().Done():
			return
		case <-ticker.C:
		}
		if _, err := p.PublishOnce(l.Context()); err != nil {
			logger.Error("Couldn't publish scene", slog.Any("error", err))
		}
	}
}

// PublishOnce publishes the current state of the scene, unless it did not
// change since the previous successful publication. It reports whether it
// published anything.
//
// The snapshot is taken under a ReadPermit, which is released before any
// message is sent.
func (p *Publisher) PublishOnce(ctx context.Context) (published bool, err error) {
	ctx, span := tracer.Start(ctx, "Publisher.PublishOnce", trace.WithAttributes(
		attribute.String("scene.name", p.name),
	))
	defer span.End()

	var snap SceneSnapshot
	_ = p.scene.View(ctx, func(rp *ReadPermit) error {
		snap = rp.Snapshot()
		return nil
	})
	if p.published && snap.Version == p.lastVersion {
		return false, nil
	}

	defer func(start time.Time) {
		measurePublish(ctx, p.name, err == nil, time.Since(start))
	}(time.Now())

	logger := component.Logger(ctx).With(
		slog.String("scene", p.name),
		slog.Uint64("scene-version", snap.Version),
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range snap.Robots {
		g.Go(func() error {
			return p.notifyChange(gctx, logger, RobotChanged{
				Scene:   p.name,
				Version: snap.Version,
				Tick:    snap.Tick,
				Stamp:   snap.Stamp,
				Robot:   r,
			})
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("send robot changes: %w", err)
	}

	p.published = true
	p.lastVersion = snap.Version
	return true, nil
}

func (p *Publisher) notifyChange(ctx context.Context, logger *slog.Logger, c RobotChanged) error {
	ctx, span := tracer.Start(ctx, "Publisher.notifyChange", trace.WithAttributes(
		attribute.String("robot", c.Robot.Name),
	))
	defer span.End()

	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(c); err != nil {
		err := fmt.Errorf("encode gob: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// The robot's name is included as metadata so that brokers that partition by
	// key (e.g. Kafka) deliver the messages of a robot in order.
	msg := &pubsub.Message{Body: b.Bytes(), Metadata: map[string]string{"robot": c.Robot.Name, "scene": c.Scene}}
	if err := p.sink.Send(ctx, msg); err != nil {
		err := fmt.Errorf("send: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	logger.Debug("RobotChanged message sent", slog.String("robot", c.Robot.Name))
	return nil
}

// DecodeRobotChanged decodes a message sent by a Publisher.
func DecodeRobotChanged(msg *pubsub.Message) (RobotChanged, error) {
	var c RobotChanged
	if err := gob.NewDecoder(bytes.NewReader(msg.Body)).Decode(&c); err != nil {
		return RobotChanged{}, fmt.Errorf("decode gob: %w", err)
	}
	return c, nil
}
