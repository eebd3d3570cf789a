package rules

import "github.com/flowmesh/streamcore/logical"

// predicatePushdownRule moves a Filter below a single-input operator
// that doesn't produce any field the filter's predicate reads,
// shrinking the set of rows later operators (especially Map and
// window operators) have to process.
type predicatePushdownRule struct{}

func (predicatePushdownRule) Name() string { return "predicatePushdown" }

func (r predicatePushdownRule) Apply(root *logical.Operator) (*logical.Operator, bool) {
	changed := false
	logical.WalkOperators(root, func(o *logical.Operator) {
		if o.Kind != logical.KindFilter || len(o.Inputs) != 1 {
			return
		}
		child := o.Inputs[0]
		if !pushableBelow(child) {
			return
		}
		needed := referencedFields(o.Predicate)
		if produces(child, needed) {
			return
		}
		if len(child.Inputs) != 1 {
			return
		}
		// swap: Filter(child(grandchild)) -> child(Filter(grandchild))
		grandchild := child.Inputs[0]
		newFilter := &logical.Operator{Kind: logical.KindFilter, Inputs: []*logical.Operator{grandchild}, Predicate: o.Predicate}
		replacement := *child
		replacement.Inputs = []*logical.Operator{newFilter}
		*o = replacement
		changed = true
	})
	return root, changed
}

// pushableBelow reports whether child is a kind a Filter may safely
// be pushed below: it must not change which rows exist (Map,
// WatermarkAssigner and Projection over fields the predicate doesn't
// touch are all safe; Limit and operators that aggregate or join rows
// are not).
func pushableBelow(o *logical.Operator) bool {
	switch o.Kind {
	case logical.KindMap, logical.KindProjection, logical.KindWatermarkAssigner:
		return true
	default:
		return false
	}
}

// produces reports whether o's own output introduces any of the
// needed field names beyond what its input already had (i.e. pushing
// a filter below it would break a dependency).
func produces(o *logical.Operator, needed map[string]bool) bool {
	switch o.Kind {
	case logical.KindMap:
		return needed[o.MapResult]
	case logical.KindProjection:
		return !subsetOf(needed, o.ProjectCols)
	default:
		return false
	}
}
