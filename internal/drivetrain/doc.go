// Package drivetrain is the facade over the four swerve modules, the gyro
// and the pose estimator.
//
// Callers express intent (Drive, StopAndLock, SetChassisSpeeds) at any point
// during a tick; Periodic turns the latest intent into module setpoints,
// advances odometry and folds in at most one vision measurement. The package
// also provides the drivetrain commands used by teleop and autonomous
// routines.
package drivetrain
