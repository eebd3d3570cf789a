package rules

import "github.com/flowmesh/streamcore/logical"

// referencedFields collects the set of field names e reads.
func referencedFields(e logical.Expr) map[string]bool {
	out := map[string]bool{}
	if e == nil {
		return out
	}
	logical.Walk(e, func(x logical.Expr) {
		if f, ok := x.(*logical.FieldAccess); ok {
			out[f.Name] = true
		}
	})
	return out
}

func subsetOf(needed map[string]bool, available []string) bool {
	have := map[string]bool{}
	for _, a := range available {
		have[a] = true
	}
	for n := range needed {
		if !have[n] {
			return false
		}
	}
	return true
}
