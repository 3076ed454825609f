// Package telemetry implements the dashboard event feed.
//
// The hub fans robot events (command lifecycle, vision rejections, sensor
// faults, mode changes) out to every SSE client and buffers the last N events
// so a reconnecting client can resume with the Last-Event-ID header.
// Publishing never blocks: the control loop publishes from its tick and a
// slow client loses events rather than stalling the robot.
package telemetry
