package kinematics

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/robot-control/robotd/internal/geom"
)

var (
	// ErrModuleCount is returned when a kinematics model is built from fewer
	// than two modules or fed the wrong number of states.
	ErrModuleCount = errors.New("kinematics: module count mismatch")
	// ErrDegenerate is returned when the module layout cannot observe rotation.
	ErrDegenerate = errors.New("kinematics: degenerate module layout")
)

// SwerveKinematics maps chassis speeds to module states for a fixed set of
// module offsets.
type SwerveKinematics struct {
	offsets []r2.Point
	inverse *mat.Dense // 2n x 3
	forward *mat.Dense // 3 x 2n, least-squares pseudo-inverse

	headings []geom.Rotation2d
}

// NewSwerveKinematics builds the model for the given module offsets. The
// order of offsets fixes the order of every state slice in and out.
func NewSwerveKinematics(offsets ...r2.Point) (*SwerveKinematics, error) {
	n := len(offsets)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 modules, got %d", ErrModuleCount, n)
	}

	inverse := mat.NewDense(2*n, 3, nil)
	for i, o := range offsets {
		inverse.SetRow(2*i, []float64{1, 0, -o.Y})
		inverse.SetRow(2*i+1, []float64{0, 1, o.X})
	}

	var normal, normalInv mat.Dense
	normal.Mul(inverse.T(), inverse)
	if err := normalInv.Inverse(&normal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}
	forward := mat.NewDense(3, 2*n, nil)
	forward.Mul(&normalInv, inverse.T())

	k := &SwerveKinematics{
		offsets:  append([]r2.Point(nil), offsets...),
		inverse:  inverse,
		forward:  forward,
		headings: make([]geom.Rotation2d, n),
	}
	return k, nil
}

// NumModules returns the number of modules in the model.
func (k *SwerveKinematics) NumModules() int { return len(k.offsets) }

// Offsets returns a copy of the module offsets.
func (k *SwerveKinematics) Offsets() []r2.Point {
	return append([]r2.Point(nil), k.offsets...)
}

// ToModuleStates returns the state each module needs for the chassis to move
// at speeds. A zero request keeps every module at its last commanded angle
// with zero speed instead of snapping the wheels back to 0 rad.
func (k *SwerveKinematics) ToModuleStates(speeds ChassisSpeeds) []ModuleState {
	states := make([]ModuleState, len(k.offsets))
	if speeds.IsZero() {
		for i := range states {
			states[i] = ModuleState{Angle: k.headings[i]}
		}
		return states
	}

	for i, o := range k.offsets {
		vx := speeds.Vx - speeds.Omega*o.Y
		vy := speeds.Vy + speeds.Omega*o.X
		angle := geom.FromComponents(vx, vy)
		states[i] = ModuleState{Speed: math.Hypot(vx, vy), Angle: angle}
		k.headings[i] = angle
	}
	return states
}

// ResetHeadings sets the angles reported for a zero request.
func (k *SwerveKinematics) ResetHeadings(headings []geom.Rotation2d) error {
	if len(headings) != len(k.headings) {
		return fmt.Errorf("%w: got %d headings for %d modules", ErrModuleCount, len(headings), len(k.headings))
	}
	copy(k.headings, headings)
	return nil
}

// ToChassisSpeeds is the least-squares inverse of ToModuleStates.
func (k *SwerveKinematics) ToChassisSpeeds(states []ModuleState) (ChassisSpeeds, error) {
	if len(states) != len(k.offsets) {
		return ChassisSpeeds{}, fmt.Errorf("%w: got %d states for %d modules", ErrModuleCount, len(states), len(k.offsets))
	}
	b := mat.NewVecDense(2*len(states), nil)
	for i, s := range states {
		b.SetVec(2*i, s.Speed*s.Angle.Cos())
		b.SetVec(2*i+1, s.Speed*s.Angle.Sin())
	}
	x := k.solve(b)
	return ChassisSpeeds{Vx: x.AtVec(0), Vy: x.AtVec(1), Omega: x.AtVec(2)}, nil
}

// ToTwist returns the chassis displacement implied by the change in module
// positions between two samples. Each delta uses the newer sample's angle.
func (k *SwerveKinematics) ToTwist(start, end []ModulePosition) (geom.Twist2d, error) {
	if len(start) != len(k.offsets) || len(end) != len(k.offsets) {
		return geom.Twist2d{}, fmt.Errorf("%w: got %d/%d positions for %d modules", ErrModuleCount, len(start), len(end), len(k.offsets))
	}
	b := mat.NewVecDense(2*len(end), nil)
	for i := range end {
		d := end[i].Distance - start[i].Distance
		b.SetVec(2*i, d*end[i].Angle.Cos())
		b.SetVec(2*i+1, d*end[i].Angle.Sin())
	}
	x := k.solve(b)
	return geom.Twist2d{Dx: x.AtVec(0), Dy: x.AtVec(1), Dtheta: x.AtVec(2)}, nil
}

func (k *SwerveKinematics) solve(b *mat.VecDense) *mat.VecDense {
	var x mat.VecDense
	x.MulVec(k.forward, b)
	return &x
}
