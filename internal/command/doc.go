// Package command implements the command scheduler for robotd.
//
// A Command is a unit of behavior that requires a set of resources (the
// drivetrain, the arm, the gripper). The Scheduler runs once per control
// period and gives each resource to at most one command at a time. A newly
// scheduled command always preempts the current holders of its resources;
// when a resource is released its default command is installed again in the
// same tick.
//
// Commands compose with Sequence, Parallel, Race and Deadline, and with the
// decorators in decorators.go. Groups hold every child's resources for their
// whole lifetime.
//
// Tick order:
//   - trigger bindings are evaluated and their commands scheduled or cancelled
//   - Execute is called on every active command
//   - IsFinished is checked and finished commands are torn down
package command
