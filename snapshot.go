package scenetwin

import (
	"fmt"
	"strings"
	"time"
)

// A SceneSnapshot is a deep copy of a Scene at one instant, taken with
// ReadPermit.Snapshot. Unlike a permit, a snapshot may be retained and shared
// freely; it never changes.
type SceneSnapshot struct {
	// Version is the scene's version at the time (see ReadPermit.Version).
	Version uint64
	// Tick and Stamp identify the latest tick begun when the snapshot was taken.
	Tick   uint64
	Stamp  time.Time
	Robots []RobotSnapshot
}

// A RobotSnapshot is the state of a single robot in a SceneSnapshot.
type RobotSnapshot struct {
	Name  string
	Links []LinkSnapshot
}

// A LinkSnapshot is the state of a single link in a SceneSnapshot. Its Sample
// is nil if no transform was ever committed for the link.
type LinkSnapshot struct {
	Name       string
	Parent     string
	Attributes Attributes
	Sample     *TransformSample
}

// Robot looks up a robot of the snapshot by name.
func (s SceneSnapshot) Robot(name string) (RobotSnapshot, bool) {
	for _, r := range s.Robots {
		if r.Name == name {
			return r, true
		}
	}
	return RobotSnapshot{}, false
}

// Link looks up a link of the robot by name.
func (r RobotSnapshot) Link(name string) (LinkSnapshot, bool) {
	for _, l := range r.Links {
		if l.Name == name {
			return l, true
		}
	}
	return LinkSnapshot{}, false
}

// FormatScene renders the snapshot as a tree: one line per robot, followed by
// its links, each indented below its parent.
func FormatScene(s SceneSnapshot, indent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scene tick=%d stamp=%s\n", s.Tick, s.Stamp.UTC().Format(time.RFC3339Nano))
	for _, rs := range s.Robots {
		fmt.Fprintf(&b, "%s\n", rs.Name)
		links := make([]Link, len(rs.Links))
		byName := make(map[string]LinkSnapshot, len(rs.Links))
		for i, l := range rs.Links {
			links[i] = Link{Name: l.Name, Parent: l.Parent}
			byName[l.Name] = l
		}
		r, err := NewRobot(rs.Name, links...)
		if err != nil {
			// Snapshots are taken from valid robots; a hand-crafted one may not be.
			fmt.Fprintf(&b, "%s!(%v)\n", indent, err)
			continue
		}
		depth := 1
		Inspect(r, func(link *Link) bool {
			if link == nil {
				depth--
				return false
			}
			fmt.Fprintf(&b, "%s%s\n", strings.Repeat(indent, depth), formatLink(byName[link.Name]))
			depth++
			return true
		})
	}
	return b.String()
}

func formatLink(l LinkSnapshot) string {
	var b strings.Builder
	b.WriteString(l.Name)
	if l.Sample == nil {
		b.WriteString(" <no transform>")
	} else {
		fmt.Fprintf(&b, " %v tick=%d", l.Sample.Pose, l.Sample.Tick)
	}
	if l.Attributes.Hidden {
		b.WriteString(" hidden")
	}
	if !l.Attributes.Color.IsZero() {
		fmt.Fprintf(&b, " %v", l.Attributes.Color)
	}
	if l.Attributes.Mesh != "" {
		fmt.Fprintf(&b, " mesh=%s", l.Attributes.Mesh)
	}
	if scale := l.Attributes.EffectiveScale(); scale != 1 {
		fmt.Fprintf(&b, " scale=%g", scale)
	}
	return b.String()
}
