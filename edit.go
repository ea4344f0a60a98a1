package scenetwin

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
)

// Register the edit types using gob.Register(). This is required to identify
// the concrete type of every Edit in a decoded EditRequest.
func init() {
	gob.Register(SetAttributes{})
	gob.Register(SetVisibility{})
	gob.Register(PlaceLink{})
}

// An Edit is a single modification of a Scene requested by an editing front
// end, such as hiding a link or recolouring it.
//
// Edits are applied by an Editor, which checks that the target of every edit in
// a batch exists before applying any of them.
type Edit interface {
	// Target names the link the edit modifies.
	Target() string
	// Apply performs the edit through the given permit.
	Apply(p *WritePermit) error
}

// SetAttributes replaces every presentation attribute of a link.
type SetAttributes struct {
	Node       string
	Attributes Attributes
}

func (e SetAttributes) Target() string { return e.Node }

func (e SetAttributes) Apply(p *WritePermit) error {
	return p.SetAttributes(e.Node, e.Attributes)
}

// Validate reports attributes that SetAttributes would refuse.
func (e SetAttributes) Validate() error {
	return e.Attributes.Color.Validate()
}

// SetVisibility shows or hides a link, leaving its other attributes as they
// are.
type SetVisibility struct {
	Node    string
	Visible bool
}

func (e SetVisibility) Target() string { return e.Node }

func (e SetVisibility) Apply(p *WritePermit) error {
	a, ok := p.Attributes(e.Node)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, e.Node)
	}
	a.Hidden = !e.Visible
	return p.SetAttributes(e.Node, a)
}

// PlaceLink commits a pose for a link, as if it were looked up. It is meant
// for links the pose source does not know about (e.g. props placed by hand):
// the next successful lookup of the link replaces the placed pose.
type PlaceLink struct {
	Node string
	Pose Pose
}

func (e PlaceLink) Target() string { return e.Node }

func (e PlaceLink) Apply(p *WritePermit) error {
	return p.Set(e.Node, e.Pose)
}

// An EditRequest is a batch of edits published by an editing front end, as
// received by Editor.Consume.
type EditRequest struct {
	// Origin identifies the front end that requested the edits, for logs.
	Origin string
	Edits  []Edit
}

// An Editor applies edits to a Scene, each batch under a single WritePermit.
type Editor struct {
	scene *Scene
}

// NewEditor returns an Editor modifying the given scene.
func NewEditor(scene *Scene) *Editor {
	return &Editor{scene: scene}
}

// Apply applies the given edits in order, atomically with respect to readers.
//
// Before applying any edit, Apply checks that every edit targets a link of the
// scene (and validates edits that have a Validate method); if one does not, no
// edit is applied and the error wraps ErrUnknownNode (or the validation error).
func (e *Editor) Apply(ctx context.Context, edits ...Edit) (err error) {
	ctx, span := tracer.Start(ctx, "Editor.Apply", trace.WithAttributes(
		attribute.Int("edits", len(edits)),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	for i, edit := range edits {
		if edit == nil {
			return fmt.Errorf("edit #%d: nil edit", i)
		}
		if _, ok := e.scene.owner[edit.Target()]; !ok {
			return fmt.Errorf("edit #%d: %w: %q", i, ErrUnknownNode, edit.Target())
		}
		if v, ok := edit.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("edit #%d: %w", i, err)
			}
		}
	}

	return e.scene.Update(ctx, func(p *WritePermit) error {
		for i, edit := range edits {
			if err := edit.Apply(p); err != nil {
				return fmt.Errorf("apply edit #%d: %w", i, err)
			}
		}
		return nil
	})
}

// Consume returns a component.Proc that applies every EditRequest received
// from sub. A request that cannot be applied is logged and dropped; the edits
// of other requests are unaffected.
func (e *Editor) Consume(sub *pubsub.Subscription) component.Proc {
	source := NewGobEventSource(sub, EditRequest{})
	return source.Stream(func(ctx context.Context, msg any) error {
		req := msg.(EditRequest)
		logger := component.Logger(ctx).With(
			slog.String("origin", req.Origin),
			slog.Int("edits", len(req.Edits)),
		)
		if err := e.Apply(ctx, req.Edits...); err != nil {
			logger.Warn("Rejected edit request", slog.Any("error", err))
			return nil
		}
		logger.Debug("Edit request applied")
		return nil
	})
}
