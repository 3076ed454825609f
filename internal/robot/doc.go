// Package robot wires the drivetrain, mechanisms and command scheduler into
// a single container and drives them from a fixed-period loop.
//
// Everything that touches robot state runs on the tick goroutine. Other
// goroutines (the operator API, the config watcher) hand work to it through
// a bounded request queue and read the immutable State published after
// every tick.
package robot
