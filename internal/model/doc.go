// Package model defines the shared data types of the automation and audit
// pipeline: entity records and references, mutation events, audit entries,
// and automation rule definitions.
//
// Types in this package carry no behavior beyond small helpers. Field and
// relation semantics live in the registry package; persistence lives in the
// store package.
package model
