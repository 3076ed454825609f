// Package kinematics converts between chassis velocities and the speed and
// steering angle of each swerve module.
//
// Module offsets are measured from the robot center in meters, +X forward
// and +Y left. Inverse kinematics gives each module the translational
// velocity plus the angular velocity crossed with its offset. Forward
// kinematics is the least-squares inverse of that linear map and is exact
// whenever the module states are consistent with a rigid chassis.
package kinematics
