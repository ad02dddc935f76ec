// Package audit mirrors every committed entity mutation into the
// append-only audit log.
//
// The Writer subscribes to the capture hook. CREATE and DELETE always
// produce one entry; UPDATE produces one entry only when at least one
// tracked field changed its stringified value. Session records are logged
// as LOGIN and LOGOUT keyed by the session key.
//
// Audit entries reference their target weakly. ResolveTarget returns nil
// when the type is unregistered or the row is gone, so history stays
// browsable after entities are purged.
package audit
