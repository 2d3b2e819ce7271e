// Package plan derives manufacturing plans from policy runs and governs
// them afterwards.
//
// # Derivation
//
// A Deriver builds version 1 of a plan in three passes:
//
//  1. the baseline process: fabrication, SMT and reflow per assembly side,
//     final inspection and packaging
//  2. baseline ruleset actions (ADD_STEP, LOCK_SEQUENCE, ADD_TEST) of every
//     rule whose tier and condition match
//  3. policy decisions that REQUIRE or INSERT_STEP a process step or test:
//     an existing step of the same type or title is upgraded in place,
//     otherwise a new step is appended
//
// Step ids hash type, sequence and title, so deriving twice from the same
// inputs and run yields identical steps.
//
// # Governance
//
// A Governor is the only writer of plan versions. Plans move
// draft -> submitted -> approved, or back to draft on reject. Approved plans
// are locked.
//
// Edits never modify a stored version. ApplyEdit checks the edited content
// against the locks of the base version (steps, tests and evidence carrying a
// decision, locked sequences, policy-sourced steps) and stores the result as
// the next version. The repository's compare-and-swap on parent version
// makes concurrent edits of the same base fail with ErrVersionConflict.
//
//	gov := plan.NewGovernor(repo, plan.WithRecorder(log))
//	next, err := gov.ApplyEdit(ctx, current, plan.Changes{Steps: &steps}, plan.EditOptions{
//		UserID:         "planner",
//		AllowOverrides: true,
//		OverrideReason: "customer waiver W-12",
//	})
package plan
