// Package geom provides the planar rigid-body types used by the drivetrain:
// rotations, poses, transforms and twists on the field plane.
//
// Translations are github.com/golang/geo/r2 points expressed in meters.
// Angles are counter-clockwise positive radians. Field coordinates put +X
// forward (away from the driver station) and +Y to the left.
package geom
