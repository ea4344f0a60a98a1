package neo4jscene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/scenetwin"
)

// An Exporter writes the description of a scenetwin.Scene to a Neo4j database.
// It is safe for concurrent use; concurrent exports are serialised.
type Exporter struct {
	driver   neo4j.DriverWithContext
	database string
	name     string
	scene    *scenetwin.Scene

	mu          sync.Mutex
	exported    bool
	lastVersion uint64
}

// NewExporter returns an Exporter writing the given scene, under the given
// scene name, to the database (see BootstrapDatabase).
func NewExporter(driver neo4j.DriverWithContext, database, name string, scene *scenetwin.Scene) *Exporter {
	return &Exporter{
		driver:   driver,
		database: database,
		name:     name,
		scene:    scene,
	}
}

// Export writes the current state of the scene in a single write transaction,
// unless the scene did not change since the previous successful export. It
// reports whether it wrote anything.
//
// The scene is snapshotted under a read permit, which is released before the
// database is contacted. If the transaction fails, the database is left as it
// was and the next call retries.
func (e *Exporter) Export(ctx context.Context) (exported bool, err error) {
	ctx, span := tracer.Start(ctx, "Export", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("scene.name", e.name),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	var snap scenetwin.SceneSnapshot
	_ = e.scene.View(ctx, func(p *scenetwin.ReadPermit) error {
		snap = p.Snapshot()
		return nil
	})
	if e.exported && snap.Version == e.lastVersion {
		return false, nil
	}

	defer func(start time.Time) {
		measureExport(ctx, e.database, err == nil, time.Since(start))
	}(time.Now())

	logger := component.Logger(ctx).With("neo4j.database", e.database)
	s := e.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: e.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close session", "error", err, "mode", "write")
		}
	}()

	_, err = s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, writeScene(ctx, tx, e.name, snap)
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false, err
	} else if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		logger.Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	} else if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("neo4j execute: %w", err)
	}

	e.exported = true
	e.lastVersion = snap.Version
	logger.Debug("Scene exported", slog.Uint64("scene-version", snap.Version))
	return true, nil
}

// Proc returns a component.Proc exporting the scene every interval until
// stopped. Failed exports are logged and retried on the next interval.
func (e *Exporter) Proc(interval time.Duration) component.Proc {
	return func(l *component.L) {
		logger := component.Logger(l.Context()).With("neo4j.database", e.database)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for l.Continue() {
			select {
			case <-l.Context().Done():
				// One last export, so that the database holds the final state.
				if _, err := e.Export(l.GraceContext()); err != nil {
					logger.Warn("Couldn't export the final scene", "error", err)
				}
				return
			case <-ticker.C:
			}
			if _, err := e.Export(l.Context()); err != nil {
				logger.Error("Couldn't export scene", "error", err)
			}
		}
	}
}

// writeScene merges every node and edge describing the snapshot.
func writeScene(ctx context.Context, tx neo4j.ManagedTransaction, name string, snap scenetwin.SceneSnapshot) error {
	_, err := tx.Run(ctx, `
		MERGE (s:Scene {name: $scene})
		ON CREATE SET s._created_at = datetime()
		SET s.tick = $tick, s.version = $version, s.stamp = $stamp, s._last_modified = datetime()
	`, map[string]any{
		"scene":   name,
		"tick":    int64(snap.Tick),
		"version": int64(snap.Version),
		"stamp":   snap.Stamp,
	})
	if err != nil {
		return fmt.Errorf("merge scene: %w", err)
	}

	for _, r := range snap.Robots {
		if err := writeRobot(ctx, tx, name, r); err != nil {
			return fmt.Errorf("robot %q: %w", r.Name, err)
		}
	}
	return nil
}

func writeRobot(ctx context.Context, tx neo4j.ManagedTransaction, scene string, r scenetwin.RobotSnapshot) error {
	links := make([]any, len(r.Links))
	inRobot := make(map[string]bool, len(r.Links))
	for i, l := range r.Links {
		links[i] = map[string]any{
			"name":  l.Name,
			"props": linkProperties(r.Name, l),
		}
		inRobot[l.Name] = true
	}
	var edges []any
	for _, l := range r.Links {
		if inRobot[l.Parent] {
			edges = append(edges, map[string]any{"parent": l.Parent, "child": l.Name})
		}
	}

	result, err := tx.Run(ctx, `
		MATCH (s:Scene {name: $scene})
		MERGE (r:Robot {scene: $scene, name: $robot})
		ON CREATE SET r._created_at = datetime()
		MERGE (s)-[:HAS_ROBOT]->(r)
		WITH r
		UNWIND $links AS link
		MERGE (l:Link {scene: $scene, name: link.name})
		ON CREATE SET l._created_at = datetime()
		SET l += link.props, l._last_modified = datetime()
		MERGE (r)-[:HAS_LINK]->(l)
		RETURN count(l) AS links
	`, map[string]any{
		"scene": scene,
		"robot": r.Name,
		"links": links,
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("query single result: %w", err)
	}
	n, err := getRecordProperty[int64](record, "links")
	if err != nil {
		return fmt.Errorf("get links: %w", err)
	}
	if n != int64(len(links)) {
		return fmt.Errorf("merged %d links instead of %d", n, len(links))
	}

	if len(edges) == 0 {
		return nil
	}
	result, err = tx.Run(ctx, `
		UNWIND $edges AS edge
		MATCH (p:Link {scene: $scene, name: edge.parent}), (c:Link {scene: $scene, name: edge.child})
		MERGE (p)-[:PARENT_OF]->(c)
		RETURN count(*) AS edges
	`, map[string]any{
		"scene": scene,
		"edges": edges,
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	record, err = result.Single(ctx)
	if err != nil {
		return fmt.Errorf("query single result: %w", err)
	}
	n, err = getRecordProperty[int64](record, "edges")
	if err != nil {
		return fmt.Errorf("get edges: %w", err)
	}
	if n != int64(len(edges)) {
		return fmt.Errorf("merged %d parent edges instead of %d", n, len(edges))
	}
	return nil
}

// linkProperties returns the properties of a Link node. Transform properties
// are null (thus removed) until the link has a sample.
func linkProperties(robot string, l scenetwin.LinkSnapshot) map[string]any {
	c := l.Attributes.Color
	props := map[string]any{
		"robot":       robot,
		"hidden":      l.Attributes.Hidden,
		"color":       []float64{float64(c[0]), float64(c[1]), float64(c[2]), float64(c[3])},
		"mesh":        l.Attributes.Mesh,
		"scale":       l.Attributes.Scale,
		"matrix":      nil,
		"translation": nil,
		"rotation":    nil,
		"stamp":       nil,
		"tick":        nil,
	}
	if s := l.Sample; s != nil {
		m := s.Matrix
		props["matrix"] = m[:]
		t := s.Pose.Translation
		props["translation"] = []float64{t[0], t[1], t[2]}
		q := s.Pose.Rotation
		props["rotation"] = []float64{q.W, q.V[0], q.V[1], q.V[2]}
		props["stamp"] = s.Stamp
		props["tick"] = int64(s.Tick)
	}
	return props
}

// LoadAttributes reads back the attributes of every link exported under the
// given scene name. A scene that was never exported yields an empty map.
func LoadAttributes(ctx context.Context, driver neo4j.DriverWithContext, database, name string) (attrs map[string]scenetwin.Attributes, err error) {
	ctx, span := tracer.Start(ctx, "LoadAttributes", trace.WithAttributes(
		attribute.String("neo4j.database", database),
		attribute.String("scene.name", name),
	))
	defer span.End()

	s := driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			component.Logger(ctx).Error("Failed to close session", "error", err, "mode", "read")
		}
	}()

	result, err := s.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:Scene {name: $scene})-[:HAS_ROBOT]->(:Robot)-[:HAS_LINK]->(l:Link)
			RETURN l.name AS name, l.hidden AS hidden, l.color AS color, l.mesh AS mesh, l.scale AS scale
		`, map[string]any{"scene": name})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("collect: %w", err)
		}
		out := make(map[string]scenetwin.Attributes, len(records))
		for _, record := range records {
			name, a, err := parseAttributes(record)
			if err != nil {
				return nil, err
			}
			out[name] = a
		}
		return out, nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("neo4j execute: %w", err)
	}
	return result.(map[string]scenetwin.Attributes), nil
}

func parseAttributes(record *neo4j.Record) (string, scenetwin.Attributes, error) {
	var a scenetwin.Attributes
	name, err := getRecordProperty[string](record, "name")
	if err != nil {
		return "", a, fmt.Errorf("get name: %w", err)
	}
	if a.Hidden, err = getRecordProperty[bool](record, "hidden"); err != nil {
		return "", a, fmt.Errorf("get hidden of %q: %w", name, err)
	}
	if a.Mesh, err = getRecordProperty[string](record, "mesh"); err != nil {
		return "", a, fmt.Errorf("get mesh of %q: %w", name, err)
	}
	if a.Scale, err = getRecordProperty[float64](record, "scale"); err != nil {
		return "", a, fmt.Errorf("get scale of %q: %w", name, err)
	}
	color, err := getRecordProperty[[]any](record, "color")
	if err != nil {
		return "", a, fmt.Errorf("get color of %q: %w", name, err)
	}
	if len(color) != len(a.Color) {
		return "", a, fmt.Errorf("color of %q has %d components", name, len(color))
	}
	for i, c := range color {
		v, ok := c.(float64)
		if !ok {
			return "", a, fmt.Errorf("color of %q: %w", name, unexpectedPropertyTypeError{Type: reflect.TypeOf(c)})
		}
		a.Color[i] = float32(v)
	}
	return name, a, nil
}
