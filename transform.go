package scenetwin

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// A Pose is a rigid transform: a rotation (unit quaternion) followed by a
// translation, expressing a child frame relative to a parent frame.
type Pose struct {
	Rotation    mgl64.Quat
	Translation mgl64.Vec3
}

// IdentityPose returns the pose that maps every frame onto itself.
func IdentityPose() Pose {
	return Pose{Rotation: mgl64.QuatIdent()}
}

// Matrix composes the pose into a homogeneous 4x4 matrix (column-major, as
// mgl64 lays it out). The rotation is normalised first, so a quaternion that
// drifted slightly off unit length still yields a rigid transform.
func (p Pose) Matrix() mgl64.Mat4 {
	t := mgl64.Translate3D(p.Translation[0], p.Translation[1], p.Translation[2])
	return t.Mul4(p.Rotation.Normalize().Mat4())
}

// Mul returns the pose of frame c relative to frame a, where p is the pose of b
// relative to a and q is the pose of c relative to b.
func (p Pose) Mul(q Pose) Pose {
	r := p.Rotation.Normalize()
	return Pose{
		Rotation:    r.Mul(q.Rotation.Normalize()),
		Translation: p.Translation.Add(r.Rotate(q.Translation)),
	}
}

func (p Pose) String() string {
	return fmt.Sprintf("t=(%.3f, %.3f, %.3f) q=(%.3f, %.3f, %.3f, %.3f)",
		p.Translation[0], p.Translation[1], p.Translation[2],
		p.Rotation.W, p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2])
}

// A TransformSample is the transform of a single link as captured during one
// tick. Samples are immutable: the store replaces a link's sample wholesale, so
// readers observe either the previous sample or the next one, never a mix of
// the two.
type TransformSample struct {
	// The pose as reported by the pose source.
	Pose Pose
	// Matrix is Pose composed into a homogeneous transform.
	Matrix mgl64.Mat4
	// Stamp is the scene time of the tick that committed the sample.
	Stamp time.Time
	// Tick is the sequence number of the tick that committed the sample; samples
	// committed outside the Ingestor (e.g. by editors) carry the latest tick.
	Tick uint64
}

// NewTransformSample captures the given pose at the given scene time.
func NewTransformSample(p Pose, stamp time.Time, tick uint64) TransformSample {
	return TransformSample{
		Pose:   p,
		Matrix: p.Matrix(),
		Stamp:  stamp,
		Tick:   tick,
	}
}

// Age returns how long before now the sample was captured.
func (s TransformSample) Age(now time.Time) time.Duration {
	return now.Sub(s.Stamp)
}

// Inverse returns the pose of the parent frame relative to the child frame:
// p.Mul(p.Inverse()) is the identity.
func (p Pose) Inverse() Pose {
	r := p.Rotation.Normalize().Conjugate()
	return Pose{
		Rotation:    r,
		Translation: r.Rotate(p.Translation.Mul(-1)),
	}
}
