// Package capture intercepts entity mutations at the persistence boundary
// and fans each one out as a model.MutationEvent to subscribers (the audit
// writer and the rule engine).
//
// Ambient request state (actor, client IP, session, flow token, and the
// automation re-entrancy depth) travels in a Scope stored on the
// context.Context. A scope lives exactly as long as the request context
// that carries it, so nothing leaks into an unrelated request.
//
// Subscriber failures never reach the caller of a mutation: errors and
// panics are logged and swallowed by the Hook.
package capture
