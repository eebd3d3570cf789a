package physical

import (
	"testing"

	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
)

func testSchema() schema.Schema {
	return schema.New(
		schema.Field{Name: "user", Type: schema.VarBinary},
		schema.Field{Name: "amount", Type: schema.Int32},
		schema.Field{Name: "ts", Type: schema.Int64},
	)
}

func buildLogicalPlan(t *testing.T) *logical.Operator {
	t.Helper()
	src := logical.NewSource(1, testSchema())
	filt := &logical.Operator{Kind: logical.KindFilter, Inputs: []*logical.Operator{src}, Predicate: logical.Bin(logical.OpGt, logical.Field("amount"), logical.IntLiteral(schema.Int32, 0))}
	wm := &logical.Operator{Kind: logical.KindWatermarkAssigner, Inputs: []*logical.Operator{filt}, EventTimeExpr: logical.Field("ts")}
	agg := &logical.Operator{
		Kind:       logical.KindWindowAggregate,
		Inputs:     []*logical.Operator{wm},
		Window:     logical.WindowSpec{Kind: logical.WindowTumbling, Size: 1000},
		GroupBy:    []string{"user"},
		Aggregates: []logical.AggregateSpec{{Function: "sum", Input: logical.Field("amount"), Result: "total"}},
	}
	sink := &logical.Operator{Kind: logical.KindSink, Inputs: []*logical.Operator{agg}, SinkName: "out"}
	plan, err := logical.InferSchema(sink)
	if err != nil {
		t.Fatalf("InferSchema: %v", err)
	}
	return plan
}

func TestLowerProducesWindowBuildAndProbe(t *testing.T) {
	plan := buildLogicalPlan(t)
	phys := Lower(plan)
	if phys.Kind != KindEmit {
		t.Fatalf("expected root Emit, got %v", phys.Kind)
	}
	probe := phys.Inputs[0]
	if probe.Kind != KindWindowProbe {
		t.Fatalf("expected WindowProbe beneath Emit, got %v", probe.Kind)
	}
	build := probe.Inputs[0]
	if build.Kind != KindWindowBuild {
		t.Fatalf("expected WindowBuild beneath WindowProbe, got %v", build.Kind)
	}
}

func TestPlanSplitsAtWindowProbeBreaker(t *testing.T) {
	plan := buildLogicalPlan(t)
	phys := Lower(plan)
	pipelines := Plan(phys)

	if len(pipelines) != 3 {
		t.Fatalf("expected 3 pipelines (build | probe | emit), got %d", len(pipelines))
	}
	var sawBuild, sawProbe, sawEmit bool
	for _, p := range pipelines {
		switch p.Root.Kind {
		case KindWindowBuild:
			sawBuild = true
		case KindWindowProbe:
			sawProbe = true
		case KindEmit:
			sawEmit = true
		}
	}
	if !sawBuild || !sawProbe || !sawEmit {
		t.Fatalf("expected WindowBuild-, WindowProbe- and Emit-rooted pipelines, pipelines=%+v", pipelines)
	}
}

func TestPipelineFusesSelectionWatermarkIntoBuild(t *testing.T) {
	plan := buildLogicalPlan(t)
	phys := Lower(plan)
	pipelines := Plan(phys)

	var buildPipeline *Pipeline
	for _, p := range pipelines {
		if p.Root.Kind == KindWindowBuild {
			buildPipeline = p
			break
		}
	}
	if buildPipeline == nil {
		t.Fatal("expected a WindowBuild-rooted pipeline")
	}
	wm := buildPipeline.Root.Inputs[0]
	if wm.Kind != KindWatermarkAssigner {
		t.Fatalf("expected WatermarkAssigner fused beneath WindowBuild, got %v", wm.Kind)
	}
	sel := wm.Inputs[0]
	if sel.Kind != KindSelection {
		t.Fatalf("expected Selection fused beneath WatermarkAssigner, got %v", sel.Kind)
	}
	if sel.Inputs[0].Kind != KindScan {
		t.Fatalf("expected Scan beneath Selection, got %v", sel.Inputs[0].Kind)
	}
}
