// Package auth verifies bearer tokens for the operator API and enforces
// scopes on its routes.
//
// Tokens are JWTs signed with HS256 (shared secret, used on the bench and in
// tests) or RS256 (PEM public key, used on the robot). A token carries a
// subject and a list of scopes:
//
//   - read: robot state, autonomous routine list
//   - control: mode changes, pose reset, routine selection, operator input
//   - telemetry: the server-sent event stream
package auth
