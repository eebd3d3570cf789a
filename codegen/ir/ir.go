// Package ir defines the three-address SSA representation produced by
// the tracing front-end of spec §4.3: blocks of typed values, each
// naming its operator and operand values, linked by branches.
package ir

import (
	"fmt"
	"io"
	"strings"

	"github.com/flowmesh/streamcore/internal/schema"
)

// Op is a primitive IR operation.
type Op int

const (
	OpConst Op = iota
	OpFieldLoad
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpCmpEq
	OpCmpNeq
	OpCmpLt
	OpCmpLte
	OpCmpGt
	OpCmpGte
	OpAnd
	OpOr
	OpNot
	OpMemRef   // buffer base + field offset + record-index arithmetic
	OpLoad     // load a value from a MemRef
	OpStore    // store a value to a MemRef
	OpCall     // invoke a named external handler (aggregation lift/combine, hash)
	OpPhi      // SSA merge at a block boundary
	OpBranch   // conditional branch to one of two successor blocks
	OpJump     // unconditional branch
	OpReturn   // terminate the trace for the current record
)

// ValueID names a Value within its Graph, unique for the lifetime of
// the trace that produced it.
type ValueID int

// Value is one SSA instruction: it produces a single typed result
// (except branches/jumps/return, which produce none) consumed by
// later values via Args.
type Value struct {
	ID   ValueID
	Op   Op
	Type schema.DataType

	// Operand value IDs, meaning depends on Op.
	Args []ValueID

	// OpConst
	ConstI int64
	ConstF float64
	ConstS []byte

	// OpFieldLoad / OpMemRef
	FieldName string

	// OpCall
	CallTarget string

	// OpBranch / OpJump: target block indices into Graph.Blocks.
	TrueBlock, FalseBlock int
}

// Block is a sequence of Values ending in a branch, jump, or return.
type Block struct {
	ID     int
	Values []Value
}

// Graph is the SSA trace of one physical pipeline stage, produced by
// Trace and consumed by a Backend.
type Graph struct {
	Blocks []Block
	Entry  int
	next   ValueID

	// OutSchema and OutFields describe the record a Backend's compiled
	// stage must produce per surviving input record: OutFields[i] is
	// the final SSA value holding OutSchema.Fields[i]'s value at the
	// point record evaluation reaches OpReturn.
	OutSchema schema.Schema
	OutFields []ValueID
}

// NewGraph returns an empty graph with a single entry block.
func NewGraph() *Graph {
	return &Graph{Blocks: []Block{{ID: 0}}, Entry: 0}
}

// Emit appends v (assigning it a fresh ValueID) to block and returns
// the ID so later values can reference it as an Arg.
func (g *Graph) Emit(block int, v Value) ValueID {
	v.ID = g.next
	g.next++
	g.Blocks[block].Values = append(g.Blocks[block].Values, v)
	return v.ID
}

// NewBlock appends an empty block and returns its index.
func (g *Graph) NewBlock() int {
	id := len(g.Blocks)
	g.Blocks = append(g.Blocks, Block{ID: id})
	return id
}

// Lookup finds the Value with the given ID across all blocks. Traces
// produced by this package are small (one pipeline stage), so a
// linear scan is simpler than maintaining an index and never shows up
// as a hot path.
func (g *Graph) Lookup(id ValueID) (Value, bool) {
	for _, b := range g.Blocks {
		for _, v := range b.Values {
			if v.ID == id {
				return v, true
			}
		}
	}
	return Value{}, false
}

var opNames = [...]string{
	OpConst: "const", OpFieldLoad: "fieldload", OpAdd: "add", OpSub: "sub",
	OpMul: "mul", OpDiv: "div", OpCmpEq: "cmpeq", OpCmpNeq: "cmpneq",
	OpCmpLt: "cmplt", OpCmpLte: "cmplte", OpCmpGt: "cmpgt", OpCmpGte: "cmpgte",
	OpAnd: "and", OpOr: "or", OpNot: "not", OpMemRef: "memref", OpLoad: "load",
	OpStore: "store", OpCall: "call", OpPhi: "phi", OpBranch: "branch",
	OpJump: "jump", OpReturn: "return",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Dump writes a plain-text rendering of the graph, one block per
// section and one instruction per line. Format is implementation-
// defined and has no stability requirement; it exists for --dump-ir
// debugging, not as a serialization wire format.
func (g *Graph) Dump(w io.Writer) error {
	bw := &strings.Builder{}
	fmt.Fprintf(bw, "graph entry=%d out=%v\n", g.Entry, g.OutSchema.Fields)
	for _, b := range g.Blocks {
		fmt.Fprintf(bw, "block %d:\n", b.ID)
		for _, v := range b.Values {
			fmt.Fprintf(bw, "  v%d = %s", v.ID, v.Op)
			switch v.Op {
			case OpConst:
				fmt.Fprintf(bw, " i=%d f=%g s=%q", v.ConstI, v.ConstF, v.ConstS)
			case OpFieldLoad, OpMemRef:
				fmt.Fprintf(bw, " field=%q", v.FieldName)
			case OpCall:
				fmt.Fprintf(bw, " target=%q", v.CallTarget)
			case OpBranch:
				fmt.Fprintf(bw, " true=%d false=%d", v.TrueBlock, v.FalseBlock)
			case OpJump:
				fmt.Fprintf(bw, " target=%d", v.TrueBlock)
			}
			if len(v.Args) > 0 {
				fmt.Fprintf(bw, " args=%v", v.Args)
			}
			fmt.Fprintf(bw, " : %v\n", v.Type)
		}
	}
	for i, f := range g.OutFields {
		fmt.Fprintf(bw, "return[%d] = v%d\n", i, f)
	}
	_, err := io.WriteString(w, bw.String())
	return err
}
