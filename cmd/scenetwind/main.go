// Command scenetwind runs a scene twin: it mirrors the poses published by a
// fleet of robots into a scene, publishes the scene to rendering front ends,
// applies their edits, and optionally exports the scene to Neo4j.
//
// Usage:
//
//	scenetwind --config scenetwin.yaml [--log-level debug]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"

	"github.com/go-digitaltwin/scenetwin"
	"github.com/go-digitaltwin/scenetwin/internal/config"
	"github.com/go-digitaltwin/scenetwin/neo4jscene"
	"github.com/go-digitaltwin/scenetwin/tfbuffer"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML configuration file (required)")
	logLevel := pflag.String("log-level", "info", "minimum level of log records: debug, info, warn or error")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "scenetwind: --log-level: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "scenetwind: --config is required")
		pflag.Usage()
		os.Exit(2)
	}
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("Couldn't load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	metrics, err := setupMetrics()
	if err != nil {
		slog.Error("Couldn't set up metrics", slog.Any("error", err))
		os.Exit(1)
	}

	scene, err := newScene(cfg)
	if err != nil {
		slog.Error("Couldn't build the scene", slog.Any("error", err))
		os.Exit(1)
	}

	component.RunProc(func(l *component.L) {
		l.CleanupContext(metrics.Shutdown)
		if cfg.MetricsAddr != "" {
			l.Go("metrics", serveMetrics(cfg.MetricsAddr))
		}
		run(l, cfg, scene)
	})
}

// setupMetrics installs a MeterProvider exporting every instrument of the
// process to the default Prometheus registry.
func setupMetrics() (*sdkmetric.MeterProvider, error) {
	exporter, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	return mp, nil
}

// serveMetrics returns a proc serving /metrics on addr until stopped.
func serveMetrics(addr string) component.Proc {
	return func(l *component.L) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-l.Context().Done()
			_ = srv.Shutdown(l.GraceContext())
		}()
		component.Logger(l.Context()).Info("Serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal(fmt.Errorf("serve metrics: %w", err))
		}
	}
}

func newScene(cfg *config.Config) (*scenetwin.Scene, error) {
	robots, err := cfg.BuildRobots()
	if err != nil {
		return nil, err
	}
	return scenetwin.NewScene(scenetwin.SystemClock(), robots, scenetwin.WithHistoryDepth(cfg.HistoryDepth))
}

// run opens the daemon's transports and forks one proc per concern.
func run(l *component.L, cfg *config.Config, scene *scenetwin.Scene) {
	logger := component.Logger(l.Context()).With(slog.String("scene", cfg.Scene))
	ctx := l.GraceContext()

	poses, err := openSubscription(ctx, cfg.PubSub.Poses)
	if err != nil {
		l.Fatalf("open poses subscription %q: %v", cfg.PubSub.Poses, err)
	}
	l.CleanupBackground(poses.Shutdown)

	buffer := tfbuffer.New(scenetwin.SystemClock(), tfbuffer.WithMaxAge(cfg.MaxPoseAge))
	l.Fork("tfbuffer", buffer.Consume(poses))

	editor := scenetwin.NewEditor(scene)
	if cfg.PubSub.Edits != "" {
		edits, err := openSubscription(ctx, cfg.PubSub.Edits)
		if err != nil {
			l.Fatalf("open edits subscription %q: %v", cfg.PubSub.Edits, err)
		}
		l.CleanupBackground(edits.Shutdown)
		l.Fork("editor", editor.Consume(edits))
	}

	if cfg.PubSub.Scene != "" {
		topic, err := pubsub.OpenTopic(ctx, cfg.PubSub.Scene)
		if err != nil {
			l.Fatalf("open scene topic %q: %v", cfg.PubSub.Scene, err)
		}
		l.CleanupContext(topic.Shutdown)
		l.Fork("publisher", scenetwin.NewPublisher(cfg.Scene, scene, topic, cfg.PublishInterval))
	}

	if n := cfg.Neo4j; n != nil {
		exporter, err := openExporter(ctx, l, n, cfg.Scene, scene, editor)
		if err != nil {
			l.Fatalf("neo4j: %v", err)
		}
		l.Fork("neo4j-exporter", exporter.Proc(n.ExportInterval))
	}

	l.Fork("ingestor", scenetwin.NewIngestor(scene, buffer, cfg.ReferenceFrame,
		scenetwin.WithTickInterval(cfg.TickInterval),
		scenetwin.WithLookupTimeout(cfg.LookupTimeout),
		scenetwin.WithFailureReportInterval(cfg.FailureReportInterval),
	))
	logger.Info("Scene twin running", slog.Int("robots", len(scene.Robots())))
}

// openExporter connects to Neo4j, restores the link attributes persisted by a
// previous run, and returns an exporter of the scene.
func openExporter(ctx context.Context, l *component.L, n *config.Neo4jConfig, name string, scene *scenetwin.Scene, editor *scenetwin.Editor) (*neo4jscene.Exporter, error) {
	auth := neo4j.NoAuth()
	if n.Username != "" {
		auth = neo4j.BasicAuth(n.Username, n.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(n.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("open driver: %w", err)
	}
	l.CleanupContext(driver.Close)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify connectivity: %w", err)
	}
	if err := neo4jscene.BootstrapDatabase(ctx, driver, n.Database); err != nil {
		return nil, fmt.Errorf("bootstrap database %q: %w", n.Database, err)
	}

	persisted, err := neo4jscene.LoadAttributes(ctx, driver, n.Database, name)
	if err != nil {
		return nil, fmt.Errorf("load attributes: %w", err)
	}
	var restore []scenetwin.Edit
	for _, r := range scene.Robots() {
		for _, link := range r.LinkNames() {
			if a, ok := persisted[link]; ok {
				restore = append(restore, scenetwin.SetAttributes{Node: link, Attributes: a})
			}
		}
	}
	if err := editor.Apply(ctx, restore...); err != nil {
		return nil, fmt.Errorf("restore attributes: %w", err)
	}
	component.Logger(ctx).Info("Restored link attributes", slog.Int("links", len(restore)))

	return neo4jscene.NewExporter(driver, n.Database, name, scene), nil
}

// openSubscription opens the subscription at urlstr. An in-memory subscription
// needs its topic to exist already, so for "mem" URLs the topic is opened
// first.
func openSubscription(ctx context.Context, urlstr string) (*pubsub.Subscription, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "mem" {
		if _, err := pubsub.OpenTopic(ctx, urlstr); err != nil {
			return nil, fmt.Errorf("open in-memory topic: %w", err)
		}
	}
	return pubsub.OpenSubscription(ctx, urlstr)
}
