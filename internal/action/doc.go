// Package action executes automation actions against a triggering entity.
//
// String parameters may embed {{instance.<path>}} placeholders. Paths are
// walked through the entity registry; a broken link (null relation,
// deleted target, unknown field) renders as the empty string.
//
// Execute returns an error only for failures worth an operator's attention
// (creation rejected, webhook unreachable, misconfigured action). Expected
// gaps such as a missing sender or recipient are logged as warnings and
// the action is skipped.
package action
