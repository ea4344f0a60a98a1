/*
Package dbtest spins up database containers for tests that exercise the twin's
persistence against a real server. It wraps testcontainers-go and its neo4j
module with the defaults our exporters expect.

Container-based tests are skipped under -short. To keep a container running
after a failed test, for manual inspection of the graph, set the inspect flag:

	go test ./neo4jscene -dbtest.inspect

This package is intended to be used in tests only.
*/
package dbtest
