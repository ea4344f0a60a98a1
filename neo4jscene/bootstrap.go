package neo4jscene

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// nodeKeys lists the properties identifying every label the package writes.
var nodeKeys = map[string]string{
	"Scene": "n.name",
	"Robot": "(n.scene, n.name)",
	"Link":  "(n.scene, n.name)",
}

// BootstrapDatabase creates the database with the given name, along with the
// constraints the Exporter relies on: a node key per label, preventing
// duplicate nodes (caused by concurrent MERGEs) and indexing lookups by name.
//
// To execute queries against the created database, open a session with the
// database name as the default database. For example:
//
//	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
//	defer func() { _ = s.Close(ctx) }()
//	... use s ...
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	_, err := s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, key := range nodeKeys {
			// we use key constraint instead of uniqueness constraint because we can
			// (it is only available in the enterprise edition).
			_, err := tx.Run(ctx, `
				CREATE CONSTRAINT IF NOT EXISTS
				FOR (n:`+label+`)
				REQUIRE `+key+` IS NODE KEY
			`, nil)
			if err != nil {
				return nil, fmt.Errorf("key constraint: label %v: %w", label, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("create constraints: %w", err)
	}
	return s.Close(ctx)
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jscene: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jscene: database name must not be neo4j: reserved for the default database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jscene: names that begin with an underscore or with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	_, err := s.Run(ctx, `
			CREATE DATABASE $name IF NOT EXISTS WAIT
		`, map[string]any{
		"name": name,
	})
	return err
}
