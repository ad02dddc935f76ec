// Package engine implements the automation rule engine.
//
// The engine subscribes to the capture hook. For every mutation event it
// loads the active rules watching the event's entity type (ordered by
// name), matches each rule's trigger, evaluates its conditions and runs its
// actions in ascending order.
//
// Execution is synchronous and best-effort:
//   - A rule whose trigger or conditions do not match is skipped.
//   - An action failure is logged and counted; later actions of the same
//     rule and later rules still run.
//   - Nothing the engine does is returned to the mutation caller.
//
// Actions that mutate entities re-enter the hook. Two guards bound this:
// a depth cap on the scope carried in the context (capture.Nested
// increments it for each level of automation) and a per-flow firing
// budget. Past either limit automation is suppressed with a warning while
// audit logging continues.
//
// ON_TIME and ON_WEBHOOK rules are not triggered by mutations; external
// schedulers and webhook receivers call RunRule.
package engine
