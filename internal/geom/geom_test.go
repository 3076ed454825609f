package geom

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
)

const eps = 1e-9

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero", 0, 0},
		{"pi stays pi", math.Pi, math.Pi},
		{"minus pi maps to pi", -math.Pi, math.Pi},
		{"three halves pi", 1.5 * math.Pi, -0.5 * math.Pi},
		{"many turns", 4*math.Pi + 0.25, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Wrap(tt.in), eps)
		})
	}
}

func TestRotationArithmetic(t *testing.T) {
	a := FromDegrees(170)
	b := FromDegrees(-170)
	assert.InDelta(t, -20, a.Minus(b).Degrees(), eps)
	assert.InDelta(t, 0, a.Plus(b).Degrees(), eps)
	assert.True(t, FromDegrees(360).Equal(FromDegrees(0), eps))

	p := FromDegrees(90).Rotate(r2.Point{X: 1})
	assert.InDelta(t, 0, p.X, eps)
	assert.InDelta(t, 1, p.Y, eps)
}

func TestTransformByAndRelativeTo(t *testing.T) {
	origin := NewPose(1, 2, FromDegrees(90))
	moved := origin.TransformBy(Transform2d{Translation: r2.Point{X: 1}})

	assert.InDelta(t, 1, moved.X(), eps)
	assert.InDelta(t, 3, moved.Y(), eps)

	back := moved.RelativeTo(origin)
	assert.InDelta(t, 1, back.X(), eps)
	assert.InDelta(t, 0, back.Y(), eps)
	assert.InDelta(t, 0, back.Rotation.Radians(), eps)
}

func TestTransformInverse(t *testing.T) {
	from := NewPose(0.5, -1, FromDegrees(30))
	to := NewPose(3, 2, FromDegrees(-45))
	tr := NewTransform(from, to)

	assert.True(t, from.TransformBy(tr).Equal(to, 1e-9))
	assert.True(t, to.TransformBy(tr.Inverse()).Equal(from, 1e-9))
}

func TestExpLogRoundTrip(t *testing.T) {
	start := NewPose(1, 1, FromDegrees(10))
	twists := []Twist2d{
		{Dx: 1},
		{Dx: 1, Dy: 0.5, Dtheta: math.Pi / 2},
		{Dx: -0.2, Dy: 0.1, Dtheta: -0.3},
	}
	for _, tw := range twists {
		end := start.Exp(tw)
		got := start.Log(end)
		assert.InDelta(t, tw.Dx, got.Dx, 1e-9)
		assert.InDelta(t, tw.Dy, got.Dy, 1e-9)
		assert.InDelta(t, tw.Dtheta, got.Dtheta, 1e-9)
	}
}

func TestExpQuarterCircle(t *testing.T) {
	// Arc of radius 1 turning left by 90 degrees.
	end := Pose2d{}.Exp(Twist2d{Dx: math.Pi / 2, Dtheta: math.Pi / 2})
	assert.InDelta(t, 1, end.X(), 1e-9)
	assert.InDelta(t, 1, end.Y(), 1e-9)
	assert.InDelta(t, 90, end.Rotation.Degrees(), 1e-9)
}

func TestInterpolate(t *testing.T) {
	a := NewPose(0, 0, FromDegrees(0))
	b := NewPose(2, 0, FromDegrees(0))

	mid := a.Interpolate(b, 0.5)
	assert.InDelta(t, 1, mid.X(), eps)
	assert.Equal(t, a, a.Interpolate(b, -1))
	assert.Equal(t, b, a.Interpolate(b, 2))
}
