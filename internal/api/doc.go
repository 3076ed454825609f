// Package api implements the operator HTTP API.
//
// The API exposes robot state, mode and pose control, autonomous routine
// selection, the telemetry event stream (SSE), a websocket for driver
// station input and the Prometheus endpoint. Every JSON response uses the
// envelope {result, data, code, message, correlationId}.
package api
