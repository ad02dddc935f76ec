// Package harness runs YAML scenarios against a fully wired bizflow
// application and checks the resulting audit trail.
//
// # Scenario Format
//
//	name: close_won
//	description: "Winning an opportunity closes it"
//	specs: ../specs              # CUE directory, relative to the scenario file
//	flow_token: req              # prefix for deterministic flow tokens
//	config:
//	  max_depth: 3
//	setup:
//	  - op: create
//	    type: User
//	    pk: u1
//	    values: { username: ann }
//	flow:
//	  - op: update
//	    type: Opportunity
//	    pk: o1
//	    actor: u1
//	    values: { stage: WON }
//	    expect:
//	      values: { stage: WON }
//	assertions:
//	  - type: audit_contains
//	    operation: UPDATE
//	    target: Opportunity:o1
//	    rule: close-won
//	    changes: { status: CLOSED_WON }
//	  - type: final_state
//	    entity: Opportunity:o1
//	    expect: { status: CLOSED_WON }
//
// # Step Operations
//
//   - create, update, delete: entity mutations through the capture pipeline
//   - login, logout: session lifecycle (audited as LOGIN/LOGOUT)
//   - trigger: run a named rule against an entity (ON_TIME, ON_WEBHOOK)
//   - note: manual OTHER audit entry
//   - sender: register a default sender for an owner and channel
//
// # Assertion Types
//
//   - audit_contains: an entry matches operation/target/rule/actor/changes
//   - audit_count: exactly N entries match
//   - audit_order: entries appear in the given order (not necessarily adjacent)
//   - final_state: an entity exists with the expected values, or is absent
//   - alert_count: N alerts were raised
//   - message_count: N communications were written (optionally by channel/status)
//
// # Deterministic Execution
//
// Each scenario gets a fresh in-memory database, a step clock starting at
// testutil.Epoch, sequential flow tokens and sequential primary keys, so the
// audit trail is byte-for-byte reproducible and can be compared against a
// golden file.
package harness
