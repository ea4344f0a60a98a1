package dbtest

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jtest "github.com/testcontainers/testcontainers-go/modules/neo4j"
)

// Neo4jImage is the image of the Neo4j container. See
// <https://hub.docker.com/_/neo4j> for more images.
//
// The enterprise edition is required: exporters rely on node key constraints,
// and every test gets a database of its own (see Neo4j.Database).
const Neo4jImage = "docker.io/neo4j:5-enterprise"

// browserPort serves the Neo4j browser, for manual inspection.
const browserPort = nat.Port("7474/tcp")

const (
	// readyTimeout bounds how long a freshly started server may refuse
	// connections.
	readyTimeout = 30 * time.Second
	readyPoll    = 250 * time.Millisecond
)

// A Neo4j is a Neo4j server running in a container for the lifetime of a
// test.
type Neo4j struct {
	// Driver is connected to the server without authentication.
	Driver neo4j.DriverWithContext

	boltURL string
	httpURL string
}

// A Bootstrap prepares a fresh database, e.g. by creating it along with its
// constraints. neo4jscene.BootstrapDatabase is a Bootstrap.
type Bootstrap func(ctx context.Context, d neo4j.DriverWithContext, name string) error

// SetupNeo4j starts a Neo4j container and connects to it. The driver is
// closed, and the container terminated, during cleanup of t.
//
// SetupNeo4j skips the test under -short, and marks it parallel otherwise.
func SetupNeo4j(t *testing.T) *Neo4j {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping container-based test in short mode...")
	}
	t.Parallel()

	ctx := context.Background()
	container, err := neo4jtest.Run(ctx, Neo4jImage, containerOptions(t,
		neo4jtest.WithoutAuthentication(),
		neo4jtest.WithAcceptCommercialLicenseAgreement(),
	)...)
	if err != nil {
		t.Fatal("Failed to run neo4j container:", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Error("Terminate neo4j container:", err)
		}
	})

	n := &Neo4j{}
	if n.boltURL, err = container.BoltUrl(ctx); err != nil {
		t.Fatal("Failed to get bolt url:", err)
	}
	if n.httpURL, err = container.PortEndpoint(ctx, browserPort, "http"); err != nil {
		t.Fatal("Failed to get browser endpoint:", err)
	}
	if n.Driver, err = neo4j.NewDriverWithContext(n.boltURL, neo4j.NoAuth()); err != nil {
		t.Fatal("Failed to open neo4j driver:", err)
	}
	t.Cleanup(func() {
		if err := n.Driver.Close(ctx); err != nil {
			t.Error("Close neo4j driver:", err)
		}
	})
	if err := n.awaitReady(ctx); err != nil {
		t.Fatal("Neo4j server never became ready:", err)
	}

	// Registered last, so it runs before the container is terminated.
	t.Cleanup(func() {
		if t.Failed() && *Inspect {
			t.Logf("Container %v is still running for inspection (Ctrl+C to terminate)...", container.GetContainerID())
			t.Logf("Browser: %s", n.browserURL(""))
			waitForInspection()
		}
	})
	return n
}

// awaitReady polls the server until it accepts connections, because the
// container may report ready shortly before Neo4j does.
func (n *Neo4j) awaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()
	for {
		err := n.Driver.VerifyConnectivity(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: last attempt: %v", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// Database creates a database for the test t, named after it, and prepares it
// with bootstrap. The database is dropped during cleanup of t, unless the test
// failed and is kept for inspection.
func (n *Neo4j) Database(t *testing.T, bootstrap Bootstrap) string {
	t.Helper()
	ctx := context.Background()
	name := databaseName(t)
	if err := bootstrap(ctx, n.Driver, name); err != nil {
		t.Fatalf("Bootstrap database %q: %v", name, err)
	}
	t.Cleanup(func() {
		if t.Failed() && *Inspect {
			t.Logf("Database %q kept for inspection: %s", name, n.browserURL(name))
			return
		}
		_, err := neo4j.ExecuteQuery(ctx, n.Driver, "DROP DATABASE $name IF EXISTS", map[string]any{"name": name},
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase("system"))
		if err != nil {
			t.Errorf("Drop database %q: %v", name, err)
		}
	})
	return name
}

// browserURL links the Neo4j browser to the server, and to the given database
// if any. See <https://neo4j.com/docs/browser-manual/current/operations/browser-url-parameters>.
func (n *Neo4j) browserURL(database string) string {
	q := url.Values{}
	q.Set("preselectAuthMethod", "[NO_AUTH]")
	q.Set("dbms", n.boltURL)
	if database != "" {
		q.Set("db", database)
	}
	return n.httpURL + "/browser?" + q.Encode()
}
