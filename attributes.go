package scenetwin

import "fmt"

// Attributes describe how a link is presented, independently of where it is.
// The zero value is a visible link with the renderer's default appearance.
type Attributes struct {
	// Hidden links are kept up to date, but front ends do not draw them.
	Hidden bool
	// Color is an RGBA tint with components in [0, 1]. The zero Color means
	// "no tint".
	Color Color
	// Mesh locates the geometry to draw for the link (e.g.
	// "package://arm/meshes/forearm.stl"). Empty means no geometry.
	Mesh string
	// Scale uniformly scales the mesh; zero means 1.
	Scale float64
}

// EffectiveScale returns the scale to apply to the link's mesh.
func (a Attributes) EffectiveScale() float64 {
	if a.Scale == 0 {
		return 1
	}
	return a.Scale
}

// Color is an RGBA color with components in [0, 1].
type Color [4]float32

// IsZero reports whether c is the zero Color.
func (c Color) IsZero() bool { return c == Color{} }

func (c Color) String() string {
	return fmt.Sprintf("rgba(%.2f, %.2f, %.2f, %.2f)", c[0], c[1], c[2], c[3])
}

// Validate reports components outside [0, 1], including NaN.
func (c Color) Validate() error {
	for i, v := range c {
		if v != v || v < 0 || v > 1 {
			return fmt.Errorf("color component #%d out of range: %v", i, v)
		}
	}
	return nil
}
