// Package estimator fuses swerve odometry with delayed absolute vision
// measurements into a single field pose.
//
// Odometry advances every tick from module distance deltas and the gyro
// heading. A vision measurement refers to the moment its image was
// captured, which is usually several ticks in the past. The estimator keeps
// a short history of odometry poses so that the measurement can be blended
// with the estimate as it stood at capture time; the motion since capture
// is then replayed on top of the corrected pose.
//
// Estimator is not safe for concurrent use. It is owned by the control tick.
package estimator
