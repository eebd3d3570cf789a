package rules

import "github.com/flowmesh/streamcore/logical"

// projectionPruningRule collapses adjacent Projections into one,
// removing intermediate columns that would otherwise be materialized
// and immediately discarded.
type projectionPruningRule struct{}

func (projectionPruningRule) Name() string { return "projectionPruning" }

func (r projectionPruningRule) Apply(root *logical.Operator) (*logical.Operator, bool) {
	changed := false
	logical.WalkOperators(root, func(o *logical.Operator) {
		if o.Kind != logical.KindProjection || len(o.Inputs) != 1 {
			return
		}
		child := o.Inputs[0]
		if child.Kind != logical.KindProjection || len(child.Inputs) != 1 {
			return
		}
		o.Inputs = []*logical.Operator{child.Inputs[0]}
		changed = true
	})
	return root, changed
}
