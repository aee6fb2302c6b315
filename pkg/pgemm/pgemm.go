// Package pgemm exposes a ScaLAPACK-shaped p?gemm entry point: a caller describes A, B and C
// as block-cyclic distributions over a comm.Communicator, and PGEMM redistributes them into
// COSMA's own native layout, drives pkg/core/engine, and redistributes the result back.
//
// This is deliberately the only place in the module that touches an arbitrary caller layout
// (spec section 1: "a layout-translation shim...performs no algorithmic work"). Everything
// downstream of the redistribution -- the strategy, the recursive multiply, the local kernel --
// only ever sees COSMA's own native, single-contiguous-region-per-rank distribution.
package pgemm

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/bufferpool"
	"github.com/cosma-go/cosma/pkg/core/comm"
	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/engine"
	"github.com/cosma-go/cosma/pkg/core/interval"
	"github.com/cosma-go/cosma/pkg/core/kernel"
	"github.com/cosma-go/cosma/pkg/core/layout"
	"github.com/cosma-go/cosma/pkg/core/strategy"
	"github.com/cosma-go/cosma/pkg/layout/blockcyclic"
)

// Operand describes one of A, B or C as the caller stores it: a block-cyclic distribution over
// Comm's ranks, plus the caller's own local storage. Local holds, in blockcyclic.Descriptor's
// OwnedRegions order, the column-major elements of each region this rank owns, back to back --
// the same convention layout.LayoutDescriptor implementations already assume for a single
// region, generalized to Layout's possibly-many scattered blocks per rank.
type Operand struct {
	DType  dtype.DType
	Trans  kernel.Op
	Layout *blockcyclic.Descriptor
	Local  any
}

// Request bundles one PGEMM call's arguments. M, N, K describe the logical problem
// (op(A) is M x K, op(B) is K x N, C is M x N), independent of how A/B are physically stored.
type Request struct {
	M, N, K     int
	Alpha, Beta complex128
	A, B, C     Operand
	Comm        comm.Communicator
	Kernel      kernel.GEMM
	// Strategy, if non-nil, is used verbatim instead of being auto-compiled from M, N, K and
	// Comm.Size() -- the same override spec section 4.2 gives engine.Request.
	Strategy *strategy.Strategy
	Options  engine.Options
}

// PGEMM computes C <- alpha*op(A)*op(B) + beta*C across Req.Comm's ranks, translating each
// operand from its caller-supplied block-cyclic distribution into COSMA's native layout,
// running the distributed multiply, and translating C's result back.
func PGEMM(ctx context.Context, req Request) error {
	if req.Comm == nil {
		return errors.New("pgemm: Comm is required")
	}
	if req.Kernel == nil {
		return errors.New("pgemm: Kernel is required")
	}
	if req.C.Trans != kernel.NoTrans {
		return errors.New("pgemm: C must not be transposed")
	}
	if req.A.DType != req.B.DType || req.B.DType != req.C.DType {
		return errors.Errorf("pgemm: mismatched dtypes a=%v b=%v c=%v", req.A.DType, req.B.DType, req.C.DType)
	}
	if err := checkLayoutFitsCommunicator("A", req.A.Layout, req.Comm.Size()); err != nil {
		return err
	}
	if err := checkLayoutFitsCommunicator("B", req.B.Layout, req.Comm.Size()); err != nil {
		return err
	}
	if err := checkLayoutFitsCommunicator("C", req.C.Layout, req.Comm.Size()); err != nil {
		return err
	}

	problem := strategy.Problem{M: req.M, N: req.N, K: req.K, P: req.Comm.Size()}
	strat, err := resolveStrategy(problem, req)
	if err != nil {
		return err
	}

	native, err := newNativeSet(*strat, problem)
	if err != nil {
		return err
	}

	pool, err := bufferpool.New(req.A.DType, *strat, problem, req.Options.MemoryLimit)
	if err != nil {
		return err
	}

	rank := req.Comm.Rank()
	nativeA, err := materialize(pool.A, native.a, rank)
	if err != nil {
		return errors.Wrap(err, "pgemm: allocating native A")
	}
	nativeB, err := materialize(pool.B, native.b, rank)
	if err != nil {
		return errors.Wrap(err, "pgemm: allocating native B")
	}
	nativeC, err := materialize(pool.C, native.c, rank)
	if err != nil {
		return errors.Wrap(err, "pgemm: allocating native C")
	}

	if err := redistributeInto(ctx, req.Comm, req.A.DType, callerSide(req.A), native.a, req.A.Local, nativeA); err != nil {
		return errors.Wrap(err, "pgemm: distributing A into native layout")
	}
	if err := redistributeInto(ctx, req.Comm, req.B.DType, callerSide(req.B), native.b, req.B.Local, nativeB); err != nil {
		return errors.Wrap(err, "pgemm: distributing B into native layout")
	}
	if err := redistributeInto(ctx, req.Comm, req.C.DType, req.C.Layout, native.c, req.C.Local, nativeC); err != nil {
		return errors.Wrap(err, "pgemm: distributing C into native layout")
	}

	engineReq := engine.Request{
		Problem:  problem,
		Strategy: strat,
		A:        engine.MatrixDescriptor{DType: req.A.DType, Trans: kernel.NoTrans, Local: nativeA},
		B:        engine.MatrixDescriptor{DType: req.B.DType, Trans: kernel.NoTrans, Local: nativeB},
		C:        engine.MatrixDescriptor{DType: req.C.DType, Trans: kernel.NoTrans, Local: nativeC},
		Alpha:    req.Alpha,
		Beta:     req.Beta,
		Comm:     req.Comm,
		Kernel:   req.Kernel,
		Options:  req.Options,
	}
	if err := engine.Multiply(ctx, engineReq); err != nil {
		return errors.Wrap(err, "pgemm: running distributed multiply")
	}

	if err := redistributeInto(ctx, req.Comm, req.C.DType, native.c, req.C.Layout, nativeC, req.C.Local); err != nil {
		return errors.Wrap(err, "pgemm: collecting C back into caller layout")
	}
	return nil
}

// checkLayoutFitsCommunicator rejects an operand's layout before any communication is attempted
// (spec section 7: input validation, including "a layout descriptor returns an owner outside the
// communicator", fails before redistribution starts). A block-cyclic descriptor's NumProcs is the
// highest rank it can ever hand back from GlobalToLocal or OwnedRegions; if that exceeds Comm's
// actual size, some element would be routed to a rank the communicator doesn't have.
func checkLayoutFitsCommunicator(name string, desc *blockcyclic.Descriptor, commSize int) error {
	if desc == nil {
		return errors.Errorf("pgemm: %s.Layout is required", name)
	}
	if desc.NumProcs() > commSize {
		return errors.Errorf("pgemm: %s.Layout spans %d ranks, outside the %d-rank communicator", name, desc.NumProcs(), commSize)
	}
	return nil
}

// callerSide returns op's layout descriptor as seen in op(A)/op(B)'s own logical (M or N, K)
// coordinate space: a plain pass-through when Trans is NoTrans, or a transposed adapter when
// the caller's physical storage is the operand's transpose.
func callerSide(op Operand) layout.LayoutDescriptor {
	if op.Trans == kernel.NoTrans {
		return op.Layout
	}
	return transposed{op.Layout}
}

func resolveStrategy(problem strategy.Problem, req Request) (*strategy.Strategy, error) {
	if req.Strategy != nil {
		return req.Strategy, nil
	}
	strat, err := strategy.Compile(problem, strategy.Options{MemoryLimit: req.Options.MemoryLimit})
	if err != nil {
		return nil, errors.Wrap(err, "pgemm: compiling strategy")
	}
	return &strat, nil
}

// nativeSet is the three LayoutDescriptors COSMA's own recursion distributes A, op(A)'s
// logical (M, K) space, B's logical (K, N) space and C's (M, N) space over.
type nativeSet struct {
	a, b, c *layout.NativeLayout
}

func newNativeSet(strat strategy.Strategy, problem strategy.Problem) (*nativeSet, error) {
	a, err := nativeLayoutFor(strat, problem, layout.MatrixA, interval.Must(0, problem.M-1), interval.Must(0, problem.K-1))
	if err != nil {
		return nil, err
	}
	b, err := nativeLayoutFor(strat, problem, layout.MatrixB, interval.Must(0, problem.K-1), interval.Must(0, problem.N-1))
	if err != nil {
		return nil, err
	}
	c, err := nativeLayoutFor(strat, problem, layout.MatrixC, interval.Must(0, problem.M-1), interval.Must(0, problem.N-1))
	if err != nil {
		return nil, err
	}
	return &nativeSet{a: a, b: b, c: c}, nil
}

func nativeLayoutFor(strat strategy.Strategy, problem strategy.Problem, matrix layout.Matrix, rows, cols interval.Interval) (*layout.NativeLayout, error) {
	regions, idle, err := layout.DeriveNativeRegions(strat, problem, matrix)
	if err != nil {
		return nil, errors.Wrapf(err, "pgemm: deriving native regions for %c", byte(matrix))
	}
	return layout.NewNativeLayout(rows, cols, regions, idle)
}

// viewResult carries a typed Arena view alongside its error through dtype.Dispatch, which
// requires every branch to return the same single type.
type viewResult struct {
	v   any
	err error
}

// materialize allocates rank's own contiguous native buffer for one operand out of arena, sized
// to exactly the element count native.Region(rank) needs (zero, for an idle rank).
func materialize(arena *bufferpool.Arena, native *layout.NativeLayout, rank int) (any, error) {
	size := 0
	if !native.IsIdle(rank) {
		size = native.Region(rank).Size()
	}
	res := dtype.Dispatch(arena.DType(),
		func() viewResult { v, err := bufferpool.View[float32](arena, 0, size); return viewResult{v, err} },
		func() viewResult { v, err := bufferpool.View[float64](arena, 0, size); return viewResult{v, err} },
		func() viewResult { v, err := bufferpool.View[complex64](arena, 0, size); return viewResult{v, err} },
		func() viewResult { v, err := bufferpool.View[complex128](arena, 0, size); return viewResult{v, err} },
	)
	return res.v, res.err
}
