package rules

import "github.com/flowmesh/streamcore/logical"

// logicalSourceExpansionRule expands a logical Source that lists more
// than one physical OriginIDs entry (a single logical stream fed by
// several origins, e.g. partitioned input) into a Union over one
// single-origin Source per entry, so every downstream operator only
// ever has to reason about one origin per Source leaf.
type logicalSourceExpansionRule struct{}

func (logicalSourceExpansionRule) Name() string { return "logicalSourceExpansion" }

func (r logicalSourceExpansionRule) Apply(root *logical.Operator) (*logical.Operator, bool) {
	changed := false
	logical.WalkOperators(root, func(o *logical.Operator) {
		if o.Kind != logical.KindSource || len(o.OriginIDs) <= 1 {
			return
		}
		origins := o.OriginIDs
		sources := make([]*logical.Operator, len(origins))
		for i, id := range origins {
			sources[i] = logical.NewSource(id, o.SourceSchema)
		}
		tree := sources[0]
		for _, s := range sources[1:] {
			tree = &logical.Operator{Kind: logical.KindUnion, Inputs: []*logical.Operator{tree, s}}
		}
		*o = *tree
		changed = true
	})
	return root, changed
}
