// Package rules implements the logical plan rewrite pipeline of spec
// §4.1: predicate pushdown, projection pruning, constant folding,
// logical-source expansion, join-implementation selection, and the
// supplemented limit pushdown rule, run to a confluent fixed point.
package rules

import "github.com/flowmesh/streamcore/logical"

// Rule rewrites a single operator (and, transitively through Inputs,
// its subtree) and reports whether it changed anything. Rules must be
// safe to apply repeatedly: a rule that made no change must return
// changed=false so the runner can detect a fixed point.
type Rule interface {
	Name() string
	Apply(root *logical.Operator) (out *logical.Operator, changed bool)
}

// Default is the rule set applied by Optimize, in a fixed order per
// pass. Order matters for convergence speed, not correctness: every
// rule here is confluent, so applying them in any order eventually
// reaches the same fixed point (spec §8).
var Default = []Rule{
	constantFoldingRule{},
	predicatePushdownRule{},
	projectionPruningRule{},
	limitPushdownRule{},
	logicalSourceExpansionRule{},
	joinImplementationSelectionRule{},
}

// maxPasses bounds the fixed-point loop; a well-formed rule set
// converges in far fewer passes than this for any plan depth the
// engine is expected to see.
const maxPasses = 64

// Optimize rewrites plan by applying rs (Default if nil) repeatedly
// until no rule reports a change, i.e. until a fixed point is reached.
// Running Optimize twice on an already-optimized plan is a no-op
// (confluence, spec §8).
func Optimize(plan *logical.Operator, rs []Rule) *logical.Operator {
	if rs == nil {
		rs = Default
	}
	for pass := 0; pass < maxPasses; pass++ {
		anyChanged := false
		for _, r := range rs {
			out, changed := r.Apply(plan)
			if changed {
				plan = out
				anyChanged = true
			}
		}
		if !anyChanged {
			break
		}
	}
	return plan
}
