// Package audit answers questions an auditor asks about a stored plan.
//
// Trace maps every step, test and evidence intent of a plan to the policy
// decision, compliance profile, standard clause and rule it came from.
// Check produces a checklist that says whether the plan is approved and
// traceable to a deterministic policy run over approved profiles.
// Scheduler runs Check over every stored plan on a cron schedule.
package audit
