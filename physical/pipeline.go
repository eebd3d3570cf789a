package physical

// Pipeline is a maximal run of fused operators between two breakers,
// rooted at a Scan (or an Emit→Scan boundary crossing) and ending at
// either a breaker operator or the final Emit (spec §4.2).
type Pipeline struct {
	ID        int
	Root      *Operator
	Consumers []*Pipeline // pipelines reading from this one's terminal breaker
}

// Plan groups a physical operator tree into Pipelines by a post-order
// traversal: it grows the current pipeline by consuming fusible
// successors until it reaches a breaker, then starts a fresh pipeline
// rooted at that breaker, connecting the two through the breaker's
// position in the tree (the breaker itself publishes into an
// intermediate tuple-buffer queue that the next pipeline's Scan
// reads from).
func Plan(root *Operator) []*Pipeline {
	b := &builder{byRoot: map[*Operator]*Pipeline{}}
	b.walk(root)
	return b.pipelines
}

type builder struct {
	pipelines []*Pipeline
	byRoot    map[*Operator]*Pipeline
	nextID    int
}

// walk returns the Pipeline whose Root reaches op by following fused
// operators, creating new pipelines at breakers as needed.
func (b *builder) walk(op *Operator) *Pipeline {
	if op == nil {
		return nil
	}
	childPipelines := make([]*Pipeline, len(op.Inputs))
	for i, in := range op.Inputs {
		childPipelines[i] = b.walk(in)
	}

	if op.Kind == KindScan {
		p := &Pipeline{ID: b.nextID, Root: op}
		b.nextID++
		b.pipelines = append(b.pipelines, p)
		return p
	}

	// A fusible operator with exactly one producer extends that
	// producer's pipeline in place: Pipeline.Root always names the
	// operator the engine starts executing from, so a fused operator
	// simply becomes the new root of its child pipeline.
	if op.Kind.fusible() && len(childPipelines) == 1 && childPipelines[0] != nil {
		p := childPipelines[0]
		p.Root = op
		return p
	}

	// Breaker, Emit, or a fusible operator with more than one
	// distinct producer (Union of two Scans): starts a new pipeline
	// whose Root crosses the breaker through an intermediate
	// tuple-buffer queue from each producer.
	p := &Pipeline{ID: b.nextID, Root: op}
	b.nextID++
	for _, cp := range childPipelines {
		if cp != nil {
			cp.Consumers = append(cp.Consumers, p)
		}
	}
	b.pipelines = append(b.pipelines, p)
	return p
}
