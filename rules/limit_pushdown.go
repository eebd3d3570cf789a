package rules

import "github.com/flowmesh/streamcore/logical"

// limitPushdownRule pushes a Limit below Map/Projection, shrinking the
// number of rows those operators process. Grounded on the original
// implementation's limit/top-k pushdown, not named in spec.md but
// in-scope as a supplemented optimization (spec §4.1, DESIGN.md).
type limitPushdownRule struct{}

func (limitPushdownRule) Name() string { return "limitPushdown" }

func (r limitPushdownRule) Apply(root *logical.Operator) (*logical.Operator, bool) {
	changed := false
	logical.WalkOperators(root, func(o *logical.Operator) {
		if o.Kind != logical.KindLimit || len(o.Inputs) != 1 {
			return
		}
		child := o.Inputs[0]
		if child.Kind != logical.KindMap && child.Kind != logical.KindProjection {
			return
		}
		if len(child.Inputs) != 1 {
			return
		}
		grandchild := child.Inputs[0]
		newLimit := &logical.Operator{Kind: logical.KindLimit, Inputs: []*logical.Operator{grandchild}, LimitN: o.LimitN}
		replacement := *child
		replacement.Inputs = []*logical.Operator{newLimit}
		*o = replacement
		changed = true
	})
	return root, changed
}
