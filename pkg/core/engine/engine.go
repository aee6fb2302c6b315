// Package engine drives one distributed multiply call: given a compiled strategy.Strategy, a
// comm.Communicator and a local kernel.GEMM, it walks the strategy's steps in lockstep across
// every rank, splitting the communicator (and, for a parallel-K step, reducing partial results)
// at Parallel steps and narrowing local views in place at Sequential steps, until every rank has
// exhausted the step list and can hand its leaf-level sub-block to the kernel (spec section 5).
//
// The recursion is a small, bounded call stack -- at most len(Strategy.Steps) deep -- not the
// unbounded recursion a general tree-walker would need, since a Strategy's step count is fixed
// at compile time.
package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/internal/workerpool"
	"github.com/cosma-go/cosma/internal/xsync"
	"github.com/cosma-go/cosma/pkg/core/comm"
	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/interval"
	"github.com/cosma-go/cosma/pkg/core/kernel"
	"github.com/cosma-go/cosma/pkg/core/layout"
	"github.com/cosma-go/cosma/pkg/core/strategy"
)

// MatrixDescriptor names one operand's element type, transpose flag, and this rank's already
// materialized local storage: a contiguous, column-major slice ([]float32, []float64,
// []complex64 or []complex128 matching DType) holding exactly this rank's native-layout region
// (spec section 6), physically shaped k x m instead of m x k when Trans requests a transpose.
type MatrixDescriptor struct {
	DType dtype.DType
	Trans kernel.Op
	Local any
}

// Options controls how a Multiply call executes, independent of the mathematical result.
type Options struct {
	// MemoryLimit is the per-process element budget used to auto-compile a Strategy when
	// Request.Strategy is nil. Ignored if Request.Strategy is already set.
	MemoryLimit int
	// Parallelism bounds how many goroutines Multiply uses to overlap independent
	// Sequential-M/N chunks (spec section 5's overlap of computation with communication and,
	// here, with other independent computation): 0 uses workerpool's own default
	// (runtime.NumCPU()), a positive value is a soft cap, and a negative value is unlimited.
	Parallelism int
}

// Request is everything one rank needs to participate in a distributed multiply.
type Request struct {
	Problem  strategy.Problem
	Strategy *strategy.Strategy
	A, B, C  MatrixDescriptor
	Alpha    complex128
	Beta     complex128
	Comm     comm.Communicator
	Kernel   kernel.GEMM
	Options  Options
}

// axisPair is the (row, col) logical axes of a matrix's op-applied shape: A is m x k, B is k x
// n, C is m x n (the same fact pkg/core/layout's unexported axesOf encodes, duplicated here
// since it is a fixed constant of the GEMM shape rather than something worth exporting).
type axisPair struct {
	row, col strategy.Axis
}

var (
	axesA = axisPair{strategy.M, strategy.K}
	axesB = axisPair{strategy.K, strategy.N}
	axesC = axisPair{strategy.M, strategy.N}
)

// physical returns the (row, col) axes of a matrix's PHYSICAL storage, swapping logical's row
// and col when trans requests a transpose.
func (p axisPair) physical(trans kernel.Op) axisPair {
	if trans == kernel.NoTrans {
		return p
	}
	return axisPair{p.col, p.row}
}

type engine struct {
	kernel kernel.GEMM
	plans  []layout.LevelPlan
	opA    kernel.Op
	opB    kernel.Op
	aAxes  axisPair
	bAxes  axisPair
	cAxes  axisPair
	pool   *workerpool.Pool
}

// Multiply computes this rank's share of C <- alpha*op(A)*op(B) + beta*C, per req.
func Multiply(ctx context.Context, req Request) error {
	e, a, b, c, activeComm, idle, err := prepare(req)
	if err != nil {
		return err
	}
	if idle {
		// Spec section 4.2/8: idle ranks (rank >= Strategy.EffectiveP) leave C untouched.
		return nil
	}
	return e.step(ctx, 0, activeComm, a, b, c, req.Alpha, req.Beta)
}

func prepare(req Request) (*engine, kernel.View, kernel.View, kernel.View, comm.Communicator, bool, error) {
	if err := req.Problem.Validate(); err != nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, err
	}
	if req.Comm == nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.New("engine: Request.Comm is nil")
	}
	if req.Kernel == nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.New("engine: Request.Kernel is nil")
	}
	if req.Comm.Size() != req.Problem.P {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.Errorf(
			"engine: communicator size %d does not match Problem.P %d", req.Comm.Size(), req.Problem.P)
	}
	if req.A.DType != req.B.DType || req.B.DType != req.C.DType || !dtype.Valid(req.A.DType) {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.Errorf(
			"engine: mismatched or invalid dtypes a=%v b=%v c=%v", req.A.DType, req.B.DType, req.C.DType)
	}
	if req.C.Trans != kernel.NoTrans {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.New("engine: C may not be transposed")
	}

	strat := req.Strategy
	if strat == nil {
		compiled, err := strategy.Compile(req.Problem, strategy.Options{MemoryLimit: req.Options.MemoryLimit})
		if err != nil {
			return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.Wrap(err, "engine: auto-compiling strategy")
		}
		strat = &compiled
	}

	regionsA, idleFlags, err := layout.DeriveNativeRegions(*strat, req.Problem, layout.MatrixA)
	if err != nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, err
	}
	regionsB, _, err := layout.DeriveNativeRegions(*strat, req.Problem, layout.MatrixB)
	if err != nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, err
	}
	regionsC, _, err := layout.DeriveNativeRegions(*strat, req.Problem, layout.MatrixC)
	if err != nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, err
	}

	rank := req.Comm.Rank()
	if rank < 0 || rank >= req.Problem.P {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.Errorf("engine: communicator rank %d out of range", rank)
	}
	if idleFlags[rank] {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, true, nil
	}

	// DeriveNativeRegions groups ranks over [0, EffectiveP) regardless of Problem.P (spec
	// section 4.2's "May reduce P"), so an active rank must recurse over a communicator of
	// exactly that size rather than the full one, or a later Split/Bcast/Reduce would either
	// fail (EffectiveP doesn't divide P) or group ranks differently than the layout assumed.
	activeComm := req.Comm
	if strat.EffectiveP < req.Problem.P {
		activeComm, err = req.Comm.Restrict(strat.EffectiveP)
		if err != nil {
			return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.Wrap(err, "engine: restricting communicator to active ranks")
		}
	}

	e := &engine{
		kernel: req.Kernel,
		plans:  layout.NewMapper().Compile(*strat),
		opA:    req.A.Trans,
		opB:    req.B.Trans,
		aAxes:  axesA.physical(req.A.Trans),
		bAxes:  axesB.physical(req.B.Trans),
		cAxes:  axesC.physical(kernel.NoTrans),
		pool:   req.Options.pool(),
	}

	a, err := buildView(req.A, axesA, regionsA[rank])
	if err != nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.Wrap(err, "engine: building A view")
	}
	b, err := buildView(req.B, axesB, regionsB[rank])
	if err != nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.Wrap(err, "engine: building B view")
	}
	c, err := buildView(req.C, axesC, regionsC[rank])
	if err != nil {
		return nil, kernel.View{}, kernel.View{}, kernel.View{}, nil, false, errors.Wrap(err, "engine: building C view")
	}
	return e, a, b, c, activeComm, false, nil
}

func (o Options) pool() *workerpool.Pool {
	switch {
	case o.Parallelism > 0:
		return workerpool.NewWithParallelism(o.Parallelism)
	case o.Parallelism < 0:
		return workerpool.NewWithParallelism(-1)
	default:
		return workerpool.New()
	}
}

// buildView constructs the physical View for desc over its logical region, swapping the
// region's row/col extents into physical Rows/Cols when desc.Trans requests a transpose.
func buildView(desc MatrixDescriptor, logical axisPair, region interval.Interval2D) (kernel.View, error) {
	logicalRows, logicalCols := region.Rows.Length(), region.Cols.Length()
	physRows, physCols := logicalRows, logicalCols
	if desc.Trans != kernel.NoTrans {
		physRows, physCols = logicalCols, logicalRows
	}
	v := kernel.View{DType: desc.DType, Rows: physRows, Cols: physCols, Stride: physRows, Data: desc.Local}
	if err := v.Validate(); err != nil {
		return kernel.View{}, err
	}
	return v, nil
}

// step recurses through the compiled plan starting at depth, invoking the leaf kernel once
// every step has been applied.
func (e *engine) step(ctx context.Context, depth int, cm comm.Communicator, a, b, c kernel.View, alpha, beta complex128) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(e.plans) {
		return e.kernel.Multiply(a, b, c, alpha, beta, e.opA, e.opB)
	}
	plan := e.plans[depth]
	if plan.Step.Kind == strategy.Parallel {
		return e.parallelStep(ctx, depth, cm, a, b, c, alpha, beta, plan)
	}
	return e.sequentialStep(ctx, depth, cm, a, b, c, alpha, beta, plan)
}

// parallelStep splits cm into plan.Step.Divisor sub-communicators, defensively re-asserts
// consistency (by a broadcast across every rank of cm) for any operand that no Parallel step
// from this depth on splits, recurses into the sub-communicator, and -- for a parallel-K step,
// whose axis never touches C -- allreduces the partial C contributions computed by the divisor
// peers that share this rank's final position (spec section 4.5).
func (e *engine) parallelStep(ctx context.Context, depth int, cm comm.Communicator, a, b, c kernel.View, alpha, beta complex128, plan layout.LevelPlan) error {
	divisor := plan.Step.Divisor
	newComm, err := cm.Split(divisor)
	if err != nil {
		return errors.Wrap(err, "engine: splitting communicator")
	}

	// An operand not split by this step can still be split by a deeper one (e.g. B under pm2
	// followed by pn2): only a matrix replicated all the way to the leaf is safe to re-broadcast
	// here without clobbering a later, genuinely distinct per-rank slice. Such a matrix holds the
	// same region on every rank of cm, so the broadcast runs across cm, the communicator this
	// step splits.
	if plan.ReplicatedA {
		if err := defensiveBcast(ctx, cm, a); err != nil {
			return errors.Wrap(err, "engine: reasserting A consistency")
		}
	}
	if plan.ReplicatedB {
		if err := defensiveBcast(ctx, cm, b); err != nil {
			return errors.Wrap(err, "engine: reasserting B consistency")
		}
	}
	if plan.ReplicatedC {
		if err := defensiveBcast(ctx, cm, c); err != nil {
			return errors.Wrap(err, "engine: reasserting C consistency")
		}
	}

	newGroupSize := cm.Size() / divisor
	stepBeta := beta
	if plan.ReduceC && cm.Rank()/newGroupSize != 0 {
		// Every one of the divisor K-cohorts would otherwise scale the same pre-existing C by
		// beta; only the first cohort's contribution may include it, or the post-recursion
		// Reduce below would sum divisor copies of beta*C into the result.
		stepBeta = 0
	}

	if err := e.step(ctx, depth+1, newComm, a, b, c, alpha, stepBeta); err != nil {
		return err
	}

	if plan.ReduceC {
		if err := reduceAcrossPeers(ctx, cm, divisor, newGroupSize, c); err != nil {
			return errors.Wrap(err, "engine: reducing parallel-k partial results")
		}
	}
	return nil
}

// sequentialStep narrows a, b, c along plan.Step.Axis into divisor chunks and processes each in
// turn (spec section 4.5). K chunks share C's memory and must accumulate strictly in order
// (chunk 0 keeps the caller's beta, later chunks use beta=1). M and N chunks write disjoint C
// sub-regions and so may run concurrently on e.pool (a chunk runs inline on the calling
// goroutine when the pool has no free slot) -- but only when nothing deeper in the plan
// communicates: siblings would otherwise recurse into a Parallel step's Split/Bcast/Reduce on
// the very same cm, and inproc's mailboxes match purely on (srcRank, tag), so two siblings
// racing the same fixed-tag exchange can hand each other's payloads to the wrong recv. In that
// case the chunks run one at a time instead.
func (e *engine) sequentialStep(ctx context.Context, depth int, cm comm.Communicator, a, b, c kernel.View, alpha, beta complex128, plan layout.LevelPlan) error {
	divisor := plan.Step.Divisor
	axis := plan.Step.Axis
	length := e.axisLength(axis, a, b, c)
	full := interval.Must(0, length-1)

	if axis == strategy.K {
		for i := 0; i < divisor; i++ {
			sub := full.Subinterval(divisor, i)
			chunkA := narrow(a, e.aAxes, axis, sub.First(), sub.Length())
			chunkB := narrow(b, e.bAxes, axis, sub.First(), sub.Length())
			chunkBeta := beta
			if i > 0 {
				chunkBeta = complex(1, 0)
			}
			if err := e.step(ctx, depth+1, cm, chunkA, chunkB, c, alpha, chunkBeta); err != nil {
				return err
			}
		}
		return nil
	}

	if e.hasDeeperParallelStep(depth) {
		for i := 0; i < divisor; i++ {
			sub := full.Subinterval(divisor, i)
			chunkA := narrow(a, e.aAxes, axis, sub.First(), sub.Length())
			chunkB := narrow(b, e.bAxes, axis, sub.First(), sub.Length())
			chunkC := narrow(c, e.cAxes, axis, sub.First(), sub.Length())
			if err := e.step(ctx, depth+1, cm, chunkA, chunkB, chunkC, alpha, beta); err != nil {
				return err
			}
		}
		return nil
	}

	wg := xsync.NewDynamicWaitGroup()
	var mu sync.Mutex
	var firstErr error
	for i := 0; i < divisor; i++ {
		sub := full.Subinterval(divisor, i)
		chunkA := narrow(a, e.aAxes, axis, sub.First(), sub.Length())
		chunkB := narrow(b, e.bAxes, axis, sub.First(), sub.Length())
		chunkC := narrow(c, e.cAxes, axis, sub.First(), sub.Length())
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := e.step(ctx, depth+1, cm, chunkA, chunkB, chunkC, alpha, beta); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
		// A chunk that finds the pool full runs inline on this goroutine, so nested concurrent
		// steps never block waiting for a slot held by their own ancestors.
		if !e.pool.TryGo(task) {
			task()
		}
	}
	wg.Wait()
	return firstErr
}

// hasDeeperParallelStep reports whether any step after depth splits the communicator. Only a
// Parallel step communicates (Split, plus any defensiveBcast/reduceAcrossPeers it drives); a
// subtree with no Parallel step below depth never touches cm at all, so concurrent Sequential
// M/N chunks over it are safe.
func (e *engine) hasDeeperParallelStep(depth int) bool {
	for _, plan := range e.plans[depth+1:] {
		if plan.Step.Kind == strategy.Parallel {
			return true
		}
	}
	return false
}

// narrow restricts v along axis to [start, start+length), if axis is one of matAxes' row or
// col; otherwise v is returned unchanged (the axis does not apply to this matrix).
func narrow(v kernel.View, matAxes axisPair, axis strategy.Axis, start, length int) kernel.View {
	switch axis {
	case matAxes.row:
		return v.Sub(start, 0, length, v.Cols)
	case matAxes.col:
		return v.Sub(0, start, v.Rows, length)
	default:
		return v
	}
}

// axisLength returns the current length of axis, reading it off whichever of a, b, c carries
// that axis as a physical dimension.
func (e *engine) axisLength(axis strategy.Axis, a, b, c kernel.View) int {
	switch {
	case axis == e.cAxes.row || axis == e.cAxes.col:
		if axis == e.cAxes.row {
			return c.Rows
		}
		return c.Cols
	case axis == e.aAxes.row || axis == e.aAxes.col:
		if axis == e.aAxes.row {
			return a.Rows
		}
		return a.Cols
	default:
		if axis == e.bAxes.row {
			return b.Rows
		}
		return b.Cols
	}
}
