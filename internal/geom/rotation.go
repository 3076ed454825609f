package geom

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// Rotation2d is a planar angle. The zero value is a heading of 0 rad.
type Rotation2d struct {
	radians float64
}

// FromRadians returns a rotation of r radians. The value is not wrapped.
func FromRadians(r float64) Rotation2d {
	return Rotation2d{radians: r}
}

// FromDegrees returns a rotation of d degrees.
func FromDegrees(d float64) Rotation2d {
	return Rotation2d{radians: d * math.Pi / 180}
}

// FromComponents returns the direction of the vector (x, y).
func FromComponents(x, y float64) Rotation2d {
	return Rotation2d{radians: math.Atan2(y, x)}
}

// Radians returns the angle in radians.
func (r Rotation2d) Radians() float64 { return r.radians }

// Degrees returns the angle in degrees.
func (r Rotation2d) Degrees() float64 { return r.radians * 180 / math.Pi }

// Cos returns the cosine of the angle.
func (r Rotation2d) Cos() float64 { return math.Cos(r.radians) }

// Sin returns the sine of the angle.
func (r Rotation2d) Sin() float64 { return math.Sin(r.radians) }

// Plus rotates r by o. The result is wrapped to (-pi, pi].
func (r Rotation2d) Plus(o Rotation2d) Rotation2d {
	return Rotation2d{radians: Wrap(r.radians + o.radians)}
}

// Minus returns the rotation from o to r, wrapped to (-pi, pi].
func (r Rotation2d) Minus(o Rotation2d) Rotation2d {
	return Rotation2d{radians: Wrap(r.radians - o.radians)}
}

// Neg returns the inverse rotation.
func (r Rotation2d) Neg() Rotation2d {
	return Rotation2d{radians: -r.radians}
}

// Times scales the angle.
func (r Rotation2d) Times(s float64) Rotation2d {
	return Rotation2d{radians: r.radians * s}
}

// Wrapped returns the same direction expressed in (-pi, pi].
func (r Rotation2d) Wrapped() Rotation2d {
	return Rotation2d{radians: Wrap(r.radians)}
}

// Rotate rotates p counter-clockwise by r.
func (r Rotation2d) Rotate(p r2.Point) r2.Point {
	c, s := r.Cos(), r.Sin()
	return r2.Point{X: p.X*c - p.Y*s, Y: p.X*s + p.Y*c}
}

// Equal reports whether r and o point the same way within tol radians.
func (r Rotation2d) Equal(o Rotation2d, tol float64) bool {
	return math.Abs(r.Minus(o).radians) <= tol
}

func (r Rotation2d) String() string {
	return fmt.Sprintf("Rotation2d(%.2f°)", r.Degrees())
}

// Wrap maps an angle in radians onto (-pi, pi].
func Wrap(rad float64) float64 {
	w := math.Mod(rad+math.Pi, 2*math.Pi)
	if w <= 0 {
		w += 2 * math.Pi
	}
	return w - math.Pi
}
