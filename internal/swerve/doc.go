// Package swerve implements the per-module controller: absolute-angle
// calibration, shortest-path steering, X-lock parking and the drive velocity
// loop (feed-forward plus proportional correction).
//
// A Module never returns an error from its per-tick methods. Device faults
// are logged at most once per second and the module keeps issuing its last
// valid command, so one bad sensor cannot take the whole drivetrain down.
package swerve
