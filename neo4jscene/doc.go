/*
Package neo4jscene persists the description of a scenetwin.Scene in a Neo4j
database, for tools that query the twin's structure rather than watch it move.

The graph holds one node per scene, robot and link:

	(:Scene {name})-[:HAS_ROBOT]->(:Robot {scene, name})-[:HAS_LINK]->(:Link {scene, name})
	(:Link)-[:PARENT_OF]->(:Link)

Link nodes carry the link's presentation attributes and, once known, its latest
transform (matrix, translation, rotation, stamp and tick). An Exporter rewrites
these properties whenever the scene changes; LoadAttributes reads the
attributes back, so that edits survive a restart of the twin.
*/
package neo4jscene
