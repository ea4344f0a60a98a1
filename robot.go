package scenetwin

import (
	"errors"
	"fmt"
	"slices"
)

// A Link is a named node of a robot's scene graph (e.g. "base_link",
// "forearm"). Its name identifies it uniquely within a Scene; its transform is
// refreshed every tick.
type Link struct {
	Name string
	// Parent names the link this link hangs off in the scene graph. A parent that
	// is not a link of the same robot (e.g. the reference frame "world") makes
	// this link a root of the robot.
	Parent string
	// Attributes is the initial presentation of the link; editors may change it
	// later through a WritePermit.
	Attributes Attributes
}

// A Robot is the ordered collection of links belonging to one tracked entity.
// Iterating a Robot's links yields them in the order they were given to
// NewRobot.
//
// A Robot is immutable once constructed and is safe for concurrent use.
type Robot struct {
	name     string
	links    []Link
	index    map[string]int
	children map[string][]string
	roots    []string
}

var errEmptyName = errors.New("empty name")

// NewRobot returns a Robot made of the given links. It fails if two links share
// a name, or if following parents from any link leads back to that link.
func NewRobot(name string, links ...Link) (*Robot, error) {
	if name == "" {
		return nil, fmt.Errorf("robot: %w", errEmptyName)
	}
	r := &Robot{
		name:     name,
		links:    slices.Clone(links),
		index:    make(map[string]int, len(links)),
		children: make(map[string][]string),
	}
	for i, l := range links {
		if l.Name == "" {
			return nil, fmt.Errorf("robot %q: link #%d: %w", name, i, errEmptyName)
		}
		if _, dup := r.index[l.Name]; dup {
			return nil, fmt.Errorf("robot %q: duplicate link %q", name, l.Name)
		}
		if l.Parent == l.Name {
			return nil, fmt.Errorf("robot %q: link %q is its own parent", name, l.Name)
		}
		r.index[l.Name] = i
	}
	for _, l := range links {
		if _, ok := r.index[l.Parent]; ok {
			r.children[l.Parent] = append(r.children[l.Parent], l.Name)
		} else {
			r.roots = append(r.roots, l.Name)
		}
	}
	// Every link must be reachable from a root; links that are not sit on a cycle
	// (or hang off one).
	reachable := 0
	for _, root := range r.roots {
		r.inspect(root, func(*Link) bool {
			reachable++
			return true
		})
	}
	if reachable != len(links) {
		return nil, fmt.Errorf("robot %q: parent relationships form a cycle", name)
	}
	return r, nil
}

// Name returns the robot's name.
func (r *Robot) Name() string { return r.name }

// Len returns the number of links of the robot.
func (r *Robot) Len() int { return len(r.links) }

// Links returns the robot's links in insertion order. The returned slice is a
// copy.
func (r *Robot) Links() []Link { return slices.Clone(r.links) }

// LinkNames returns the names of the robot's links in insertion order.
func (r *Robot) LinkNames() []string {
	names := make([]string, len(r.links))
	for i, l := range r.links {
		names[i] = l.Name
	}
	return names
}

// Link looks up a link by name.
func (r *Robot) Link(name string) (Link, bool) {
	i, ok := r.index[name]
	if !ok {
		return Link{}, false
	}
	return r.links[i], true
}

// Roots returns the links whose parent is not part of the robot, in insertion
// order.
func (r *Robot) Roots() []string { return slices.Clone(r.roots) }

// Children returns the links whose parent is the named link, in insertion
// order.
func (r *Robot) Children(name string) []string { return slices.Clone(r.children[name]) }

// inspect walks the subtree below name depth-first without going through the
// public Visitor machinery; NewRobot uses it before the robot is complete.
func (r *Robot) inspect(name string, f func(*Link) bool) {
	i, ok := r.index[name]
	if !ok {
		return
	}
	if !f(&r.links[i]) {
		return
	}
	for _, child := range r.children[name] {
		r.inspect(child, f)
	}
}
