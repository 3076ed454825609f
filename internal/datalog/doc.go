// Package datalog records matches to SQLite.
//
// The control loop hands samples to a Recorder without blocking; a
// background writer batches them into the database. Each daemon run is one
// match with its own ID. Tables: pose (fused and odometry rows), vision
// (every measurement with its accept or reject decision) and commands
// (scheduler lifecycle).
package datalog
