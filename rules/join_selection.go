package rules

import "github.com/flowmesh/streamcore/logical"

// joinImplementationSelectionRule recognizes a WindowJoin predicate
// that is exactly an equi-join on two field accesses and rewrites it
// into the JoinKeyL/JoinKeyR + nil-predicate form, which query's
// buildJoinImpl reads as "use the partitioned hash join" instead of the
// general-predicate nested-loop join (spec §4.2, §4.7).
type joinImplementationSelectionRule struct{}

func (joinImplementationSelectionRule) Name() string { return "joinImplementationSelection" }

func (r joinImplementationSelectionRule) Apply(root *logical.Operator) (*logical.Operator, bool) {
	changed := false
	logical.WalkOperators(root, func(o *logical.Operator) {
		if o.Kind != logical.KindWindowJoin || o.JoinPred == nil {
			return
		}
		bin, ok := o.JoinPred.(*logical.Binary)
		if !ok || bin.Op != logical.OpEq {
			return
		}
		lf, lok := bin.Left.(*logical.FieldAccess)
		rf, rok := bin.Right.(*logical.FieldAccess)
		if !lok || !rok {
			return
		}
		leftIn, rightIn := o.Inputs[0], o.Inputs[1]
		if fieldBelongsTo(lf.Name, leftIn) && fieldBelongsTo(rf.Name, rightIn) {
			o.JoinKeyL, o.JoinKeyR = lf.Name, rf.Name
		} else if fieldBelongsTo(lf.Name, rightIn) && fieldBelongsTo(rf.Name, leftIn) {
			o.JoinKeyL, o.JoinKeyR = rf.Name, lf.Name
		} else {
			return
		}
		o.JoinPred = nil
		changed = true
	})
	return root, changed
}

func fieldBelongsTo(name string, side *logical.Operator) bool {
	_, ok := side.OutputSchema.Field(name)
	return ok
}
