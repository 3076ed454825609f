// Package audit implements the append-only audit log.
//
// Every command lifecycle transition and every operator action is written
// as one JSON line to audit.jsonl, rotated by size. Command entries carry the
// run ID so a schedule, its interruption and its end can be correlated;
// operator entries carry the authenticated subject.
package audit
