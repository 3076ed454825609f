// Package subsystem holds the scoring mechanisms shared by teleop and
// autonomous routines: the pivoting telescopic arm and the roller gripper.
//
// Each mechanism is a scheduler resource. Commands only change the
// mechanism's target; Periodic samples the hardware and writes the target
// once per tick.
package subsystem
