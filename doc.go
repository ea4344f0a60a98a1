// Package scenetwin provides the scene synchronization core of a robot digital
// twin; A digital twin mirrors the live state of a robot (the rigid transforms
// of its links, over time) into a scene description that rendering front ends
// display and that editing tools modify.
//
// Specifically, a Scene owns one or more robots - ordered collections of
// named links arranged in a tree - along with a store of time-sampled
// transforms and per-link attributes. A single writer (the Ingestor) refreshes
// every link's transform from an external PoseSource once per tick, while any
// number of readers (draw loops, publishers, exporters) observe the scene.
//
// Access to a Scene goes exclusively through permits. A WritePermit excludes
// every other permit; ReadPermits share the scene with each other. Permits are
// released exactly once, and Scene.View and Scene.Update release them on every
// exit path.
package scenetwin
