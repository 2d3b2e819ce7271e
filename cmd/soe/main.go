// Soe evaluates compliance rule packs against a project and governs the
// manufacturing plans derived from the result.
//
// Usage:
//
//	# Evaluate a request and store the policy run
//	soe run --request request.yaml --save
//
//	# Derive a draft plan from a stored run
//	soe plan derive --run <run-id> --inputs inputs.yaml
//
//	# Walk the plan through review
//	soe plan submit <plan-id> --user qa-lead
//	soe plan approve <plan-id> --user quality-manager
//
//	# Check that an approved plan is ready for audit
//	soe audit check <plan-id>
package main

func main() {
	Execute()
}
