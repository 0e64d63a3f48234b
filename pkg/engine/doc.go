// Package engine holds the error taxonomy shared by the aspect engine and the
// context resolution subsystem.
//
// # Error Classes
//
// Every failure surfaced by synth carries one of four classes:
//
//   - configuration: a malformed lookup or project setting. Abort and report.
//   - not_found: the remote side confirmed the target does not exist.
//   - transient: the remote call failed (network, throttling, permissions, timeout).
//   - precondition_unmet: a node matched a role but lacks the nested shape its
//     rules depend on.
//
// Use the Is* helpers rather than comparing classes directly:
//
//	if engine.IsNotFound(err) {
//	    // absence may be acceptable to the caller
//	}
//
// Only transient errors are retryable. Retry policy belongs to the caller.
package engine
