// Package expr implements the rule condition language used by standards packs
// and baseline rules.
//
// A condition is a tree of nodes. Leaves compare one context field against a
// literal value; branches combine children with all, any or none:
//
//	when:
//	  all:
//	    - field: inputs.board_metrics.layer_count
//	      operator: gte
//	      value: 8
//	    - none:
//	        - field: hardware_class
//	          operator: in
//	          value: [PROTO, EVAL]
//
// The grammar is closed. Evaluation is a pure interpretation of the tree and
// never executes code taken from rule documents. Malformed nodes and unknown
// operators evaluate to false and are logged, so one broken rule cannot stop
// the evaluation of the rules around it.
//
// # Missing Fields
//
// Fields are addressed with dot paths into the context. When a path does not
// resolve (or resolves to null), every operator evaluates to false except
// not_exists.
package expr
