package geom

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// Pose2d is a position and heading on the field.
type Pose2d struct {
	Translation r2.Point
	Rotation    Rotation2d
}

// Transform2d is a rigid displacement expressed in the frame it is applied from.
type Transform2d struct {
	Translation r2.Point
	Rotation    Rotation2d
}

// Twist2d is a constant-curvature displacement along an arc.
type Twist2d struct {
	Dx, Dy, Dtheta float64
}

// NewPose builds a pose from field coordinates in meters.
func NewPose(x, y float64, heading Rotation2d) Pose2d {
	return Pose2d{Translation: r2.Point{X: x, Y: y}, Rotation: heading}
}

// X returns the field X coordinate.
func (p Pose2d) X() float64 { return p.Translation.X }

// Y returns the field Y coordinate.
func (p Pose2d) Y() float64 { return p.Translation.Y }

// TransformBy applies t in the pose's own frame.
func (p Pose2d) TransformBy(t Transform2d) Pose2d {
	return Pose2d{
		Translation: p.Translation.Add(p.Rotation.Rotate(t.Translation)),
		Rotation:    p.Rotation.Plus(t.Rotation),
	}
}

// RelativeTo expresses p in the frame of origin.
func (p Pose2d) RelativeTo(origin Pose2d) Pose2d {
	t := NewTransform(origin, p)
	return Pose2d{Translation: t.Translation, Rotation: t.Rotation}
}

// Distance returns the straight-line distance between the two positions.
func (p Pose2d) Distance(o Pose2d) float64 {
	return p.Translation.Sub(o.Translation).Norm()
}

// Exp moves along a twist starting at p.
func (p Pose2d) Exp(tw Twist2d) Pose2d {
	sinTheta, cosTheta := math.Sin(tw.Dtheta), math.Cos(tw.Dtheta)

	var s, c float64
	if math.Abs(tw.Dtheta) < 1e-9 {
		s = 1 - tw.Dtheta*tw.Dtheta/6
		c = 0.5 * tw.Dtheta
	} else {
		s = sinTheta / tw.Dtheta
		c = (1 - cosTheta) / tw.Dtheta
	}

	return p.TransformBy(Transform2d{
		Translation: r2.Point{X: tw.Dx*s - tw.Dy*c, Y: tw.Dx*c + tw.Dy*s},
		Rotation:    FromComponents(cosTheta, sinTheta),
	})
}

// Log returns the twist that carries p onto end.
func (p Pose2d) Log(end Pose2d) Twist2d {
	rel := end.RelativeTo(p)
	dtheta := rel.Rotation.Radians()
	half := dtheta / 2
	cosMinusOne := math.Cos(dtheta) - 1

	var halfByTan float64
	if math.Abs(cosMinusOne) < 1e-9 {
		halfByTan = 1 - dtheta*dtheta/12
	} else {
		halfByTan = -(half * math.Sin(dtheta)) / cosMinusOne
	}

	part := FromComponents(halfByTan, -half).Rotate(rel.Translation).Mul(math.Hypot(halfByTan, half))
	return Twist2d{Dx: part.X, Dy: part.Y, Dtheta: dtheta}
}

// Interpolate returns the pose a fraction t of the way from p to end along
// the connecting twist. t is clamped to [0, 1].
func (p Pose2d) Interpolate(end Pose2d, t float64) Pose2d {
	switch {
	case t <= 0:
		return p
	case t >= 1:
		return end
	}
	tw := p.Log(end)
	return p.Exp(Twist2d{Dx: tw.Dx * t, Dy: tw.Dy * t, Dtheta: tw.Dtheta * t})
}

// Equal reports whether two poses agree within tol meters and tol radians.
func (p Pose2d) Equal(o Pose2d, tol float64) bool {
	return p.Distance(o) <= tol && p.Rotation.Equal(o.Rotation, tol)
}

func (p Pose2d) String() string {
	return fmt.Sprintf("Pose2d(%.3f, %.3f, %.2f°)", p.X(), p.Y(), p.Rotation.Degrees())
}

// NewTransform returns the transform that carries from onto to.
func NewTransform(from, to Pose2d) Transform2d {
	return Transform2d{
		Translation: from.Rotation.Neg().Rotate(to.Translation.Sub(from.Translation)),
		Rotation:    to.Rotation.Minus(from.Rotation),
	}
}

// Inverse undoes t.
func (t Transform2d) Inverse() Transform2d {
	inv := t.Rotation.Neg()
	return Transform2d{
		Translation: inv.Rotate(t.Translation.Mul(-1)),
		Rotation:    inv,
	}
}
