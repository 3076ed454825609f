// Package vision carries absolute pose measurements from the camera
// coprocessor to the control tick.
//
// Producers run on their own goroutines and Publish into a Mailbox. The tick
// calls Take once per cycle: it gets the freshest sample, at most once, and
// never blocks. Older unread samples are overwritten.
package vision
