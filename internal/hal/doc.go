// Package hal defines the hardware ports the control core reads and writes
// each tick.
//
// Implementations wrap motor controllers, encoders and the IMU. The core
// never talks to a bus directly: it reads measurements and issues setpoints
// through these interfaces, and every device error it sees has been
// normalized onto one of the sentinel errors in this package.
//
// The sim subpackage provides deterministic in-memory devices for tests and
// for running the daemon without hardware.
package hal
