package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosma-go/cosma/pkg/core/comm/inproc"
	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/engine"
	"github.com/cosma-go/cosma/pkg/core/kernel"
	"github.com/cosma-go/cosma/pkg/core/kernel/naive"
	"github.com/cosma-go/cosma/pkg/core/layout"
	"github.com/cosma-go/cosma/pkg/core/strategy"
)

// denseColumnMajor builds an m x n column-major matrix from a row-major literal, for readable
// test fixtures.
func denseColumnMajor(rowMajor [][]float64) []float64 {
	rows := len(rowMajor)
	cols := len(rowMajor[0])
	out := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = rowMajor[r][c]
		}
	}
	return out
}

func naiveMultiplyReference(a, b [][]float64, alpha, beta float64, c [][]float64) [][]float64 {
	m := len(a)
	k := len(a[0])
	n := len(b[0])
	out := make([][]float64, m)
	for i := range out {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			var sum float64
			for p := 0; p < k; p++ {
				sum += a[i][p] * b[p][j]
			}
			out[i][j] = alpha*sum + beta*c[i][j]
		}
	}
	return out
}

// scatterToRanks distributes a full m x n matrix across P ranks according to the strategy's
// derived native regions for the given logical matrix role, returning one local column-major
// slice per rank.
func scatterToRanks(t *testing.T, strat strategy.Strategy, problem strategy.Problem, matrix layout.Matrix, full [][]float64) [][]float64 {
	t.Helper()
	regions, idle, err := layout.DeriveNativeRegions(strat, problem, matrix)
	require.NoError(t, err)
	out := make([][]float64, problem.P)
	for rank, region := range regions {
		if idle[rank] {
			continue
		}
		rows, cols := region.Rows.Length(), region.Cols.Length()
		local := make([]float64, rows*cols)
		for lr := 0; lr < rows; lr++ {
			for lc := 0; lc < cols; lc++ {
				gr := region.Rows.First() + lr
				gc := region.Cols.First() + lc
				local[lc*rows+lr] = full[gr][gc]
			}
		}
		out[rank] = local
	}
	return out
}

func gatherFromRanks(t *testing.T, strat strategy.Strategy, problem strategy.Problem, locals [][]float64) [][]float64 {
	t.Helper()
	regions, idle, err := layout.DeriveNativeRegions(strat, problem, layout.MatrixC)
	require.NoError(t, err)
	out := make([][]float64, problem.M)
	for i := range out {
		out[i] = make([]float64, problem.N)
	}
	for rank, region := range regions {
		if idle[rank] {
			continue
		}
		rows := region.Rows.Length()
		for lr := 0; lr < rows; lr++ {
			for lc := 0; lc < region.Cols.Length(); lc++ {
				gr := region.Rows.First() + lr
				gc := region.Cols.First() + lc
				out[gr][gc] = locals[rank][lc*rows+lr]
			}
		}
	}
	return out
}

func assertMatricesClose(t *testing.T, want, got [][]float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		require.Equal(t, len(want[i]), len(got[i]), "row %d length", i)
		for j := range want[i] {
			assert.InDelta(t, want[i][j], got[i][j], 1e-9, "element (%d,%d)", i, j)
		}
	}
}

func runDistributed(t *testing.T, strat strategy.Strategy, problem strategy.Problem, alpha, beta float64, a, b, c [][]float64) [][]float64 {
	t.Helper()
	localA := scatterToRanks(t, strat, problem, layout.MatrixA, a)
	localB := scatterToRanks(t, strat, problem, layout.MatrixB, b)
	localC := scatterToRanks(t, strat, problem, layout.MatrixC, c)

	world := inproc.NewWorld(problem.P)
	errs := make([]error, problem.P)
	done := make(chan int, problem.P)
	for rank := 0; rank < problem.P; rank++ {
		rank := rank
		go func() {
			if localC[rank] == nil {
				// Idle rank: Multiply still runs on it and returns before any communicator call.
				localC[rank] = []float64{}
				localA[rank] = []float64{}
				localB[rank] = []float64{}
			}
			req := engine.Request{
				Problem:  problem,
				Strategy: &strat,
				A:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localA[rank]},
				B:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localB[rank]},
				C:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localC[rank]},
				Alpha:    complex(alpha, 0),
				Beta:     complex(beta, 0),
				Comm:     world[rank],
				Kernel:   naive.Kernel{},
			}
			errs[rank] = engine.Multiply(context.Background(), req)
			done <- rank
		}()
	}
	for i := 0; i < problem.P; i++ {
		<-done
	}
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	return gatherFromRanks(t, strat, problem, localC)
}

func TestMultiplyAutoCompiledTwoRanks(t *testing.T) {
	problem := strategy.Problem{M: 4, N: 3, K: 2, P: 2}
	strat, err := strategy.Compile(problem, strategy.Options{})
	require.NoError(t, err)

	a := [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	b := [][]float64{{1, 0, 1}, {0, 1, 1}}
	c := [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0}}

	got := runDistributed(t, strat, problem, 1, 0, a, b, c)
	want := naiveMultiplyReference(a, b, 1, 0, c)
	assertMatricesClose(t, want, got)
}

func TestMultiplyParallelKSplitReduces(t *testing.T) {
	problem := strategy.Problem{M: 2, N: 2, K: 4, P: 2}
	strat := strategy.Strategy{Steps: []strategy.Step{{Kind: strategy.Parallel, Axis: strategy.K, Divisor: 2}}, EffectiveP: 2}

	a := [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}}
	b := [][]float64{{1, 0}, {0, 1}, {1, 1}, {2, 0}}
	c := [][]float64{{1, 1}, {1, 1}}

	got := runDistributed(t, strat, problem, 2, 3, a, b, c)
	want := naiveMultiplyReference(a, b, 2, 3, c)
	assertMatricesClose(t, want, got)
}

func TestMultiplySequentialKAccumulatesWithBeta(t *testing.T) {
	problem := strategy.Problem{M: 3, N: 3, K: 6, P: 1}
	strat := strategy.Strategy{Steps: []strategy.Step{{Kind: strategy.Sequential, Axis: strategy.K, Divisor: 3}}, EffectiveP: 1}

	a := make([][]float64, 3)
	for i := range a {
		a[i] = []float64{1, 2, 3, 4, 5, 6}
	}
	b := make([][]float64, 6)
	for i := range b {
		b[i] = []float64{float64(i + 1), float64(i + 2), float64(i + 3)}
	}
	c := [][]float64{{10, 10, 10}, {20, 20, 20}, {30, 30, 30}}

	got := runDistributed(t, strat, problem, 1.5, 0.5, a, b, c)
	want := naiveMultiplyReference(a, b, 1.5, 0.5, c)
	assertMatricesClose(t, want, got)
}

func TestMultiplySequentialMNRunsConcurrently(t *testing.T) {
	problem := strategy.Problem{M: 6, N: 4, K: 2, P: 1}
	strat := strategy.Strategy{
		Steps: []strategy.Step{
			{Kind: strategy.Sequential, Axis: strategy.M, Divisor: 3},
			{Kind: strategy.Sequential, Axis: strategy.N, Divisor: 2},
		},
		EffectiveP: 1,
	}

	a := make([][]float64, 6)
	for i := range a {
		a[i] = []float64{float64(i), float64(i + 1)}
	}
	b := [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}}
	c := make([][]float64, 6)
	for i := range c {
		c[i] = make([]float64, 4)
	}

	got := runDistributed(t, strat, problem, 1, 0, a, b, c)
	want := naiveMultiplyReference(a, b, 1, 0, c)
	assertMatricesClose(t, want, got)
}

func TestMultiplyCombinedParallelAndSequential(t *testing.T) {
	problem := strategy.Problem{M: 4, N: 4, K: 4, P: 2}
	strat, err := strategy.Compile(problem, strategy.Options{MemoryLimit: 10})
	require.NoError(t, err)

	a := make([][]float64, 4)
	b := make([][]float64, 4)
	c := make([][]float64, 4)
	for i := 0; i < 4; i++ {
		a[i] = []float64{float64(i), float64(i + 1), float64(i + 2), float64(i + 3)}
		b[i] = []float64{float64(4 - i), float64(3 - i), float64(2 - i), float64(1 - i)}
		c[i] = []float64{1, 1, 1, 1}
	}

	got := runDistributed(t, strat, problem, 2, 1, a, b, c)
	want := naiveMultiplyReference(a, b, 2, 1, c)
	assertMatricesClose(t, want, got)
}

// TestMultiplyIdleRanksLeaveCUnchanged is spec section 8's scenario 6 (P=3 -> EffectiveP=2,
// strategy pk2): it exercises the active ranks' real Restrict-then-Split-then-Reduce path
// alongside the idle rank, not just the idle rank in isolation, so a regression in restricting
// the runtime communicator down to EffectiveP would fail it.
func TestMultiplyIdleRanksLeaveCUnchanged(t *testing.T) {
	problem := strategy.Problem{M: 2, N: 2, K: 2, P: 3}
	strat, err := strategy.Compile(problem, strategy.Options{})
	require.NoError(t, err)
	require.Less(t, strat.EffectiveP, problem.P, "test requires the compiler to idle a rank for P=3")
	idleRank := strat.EffectiveP

	a := [][]float64{{1, 2}, {3, 4}}
	b := [][]float64{{5, 6}, {7, 8}}
	c := [][]float64{{1, 1}, {1, 1}}

	localA := scatterToRanks(t, strat, problem, layout.MatrixA, a)
	localB := scatterToRanks(t, strat, problem, layout.MatrixB, b)
	localC := scatterToRanks(t, strat, problem, layout.MatrixC, c)

	sentinel := []float64{-999, -999}
	localA[idleRank] = []float64{}
	localB[idleRank] = []float64{}
	localC[idleRank] = sentinel

	world := inproc.NewWorld(problem.P)
	errs := make([]error, problem.P)
	done := make(chan int, problem.P)
	for rank := 0; rank < problem.P; rank++ {
		rank := rank
		go func() {
			req := engine.Request{
				Problem:  problem,
				Strategy: &strat,
				A:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localA[rank]},
				B:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localB[rank]},
				C:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localC[rank]},
				Alpha:    complex(1, 0),
				Beta:     complex(0, 0),
				Comm:     world[rank],
				Kernel:   naive.Kernel{},
			}
			errs[rank] = engine.Multiply(context.Background(), req)
			done <- rank
		}()
	}
	for i := 0; i < problem.P; i++ {
		<-done
	}
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}

	assert.Equal(t, []float64{-999, -999}, sentinel, "idle rank must not touch its C buffer")

	got := gatherFromRanks(t, strat, problem, localC)
	want := naiveMultiplyReference(a, b, 1, 0, c)
	assertMatricesClose(t, want, got)
}

func TestMultiplyRejectsCommSizeMismatch(t *testing.T) {
	problem := strategy.Problem{M: 2, N: 2, K: 2, P: 2}
	strat, err := strategy.Compile(problem, strategy.Options{})
	require.NoError(t, err)
	world := inproc.NewWorld(1)
	req := engine.Request{
		Problem:  problem,
		Strategy: &strat,
		A:        engine.MatrixDescriptor{DType: dtype.Float64, Local: make([]float64, 4)},
		B:        engine.MatrixDescriptor{DType: dtype.Float64, Local: make([]float64, 4)},
		C:        engine.MatrixDescriptor{DType: dtype.Float64, Local: make([]float64, 4)},
		Comm:     world[0],
		Kernel:   naive.Kernel{},
	}
	err = engine.Multiply(context.Background(), req)
	assert.Error(t, err)
}

func TestMultiplyRejectsMismatchedDTypes(t *testing.T) {
	problem := strategy.Problem{M: 1, N: 1, K: 1, P: 1}
	strat, err := strategy.Compile(problem, strategy.Options{})
	require.NoError(t, err)
	world := inproc.NewWorld(1)
	req := engine.Request{
		Problem:  problem,
		Strategy: &strat,
		A:        engine.MatrixDescriptor{DType: dtype.Float64, Local: []float64{1}},
		B:        engine.MatrixDescriptor{DType: dtype.Float32, Local: []float32{1}},
		C:        engine.MatrixDescriptor{DType: dtype.Float64, Local: []float64{0}},
		Comm:     world[0],
		Kernel:   naive.Kernel{},
	}
	err = engine.Multiply(context.Background(), req)
	assert.Error(t, err)
}

func TestMultiplyTransposedOperand(t *testing.T) {
	problem := strategy.Problem{M: 2, N: 2, K: 2, P: 1}
	strat := strategy.Strategy{EffectiveP: 1}
	world := inproc.NewWorld(1)

	// Logical A = [[1,2],[3,4]] (2x2); store it transposed: physical storage is A^T = [[1,3],[2,4]]
	// column-major -> [1,2,3,4].
	aPhysical := denseColumnMajor([][]float64{{1, 3}, {2, 4}})
	b := [][]float64{{1, 0}, {0, 1}}
	bPhysical := denseColumnMajor(b)
	c := make([]float64, 4)

	req := engine.Request{
		Problem:  problem,
		Strategy: &strat,
		A:        engine.MatrixDescriptor{DType: dtype.Float64, Trans: kernel.Trans, Local: aPhysical},
		B:        engine.MatrixDescriptor{DType: dtype.Float64, Local: bPhysical},
		C:        engine.MatrixDescriptor{DType: dtype.Float64, Local: c},
		Alpha:    complex(1, 0),
		Comm:     world[0],
		Kernel:   naive.Kernel{},
	}
	require.NoError(t, engine.Multiply(context.Background(), req))
	// op(A) = transpose(A^T) = A = [[1,2],[3,4]]; A*B (B=identity) = A.
	want := denseColumnMajor([][]float64{{1, 2}, {3, 4}})
	assert.InDeltaSlice(t, want, c, 1e-9)
}

func TestMultiplyDefensiveBcastCorrectsStaleReplicas(t *testing.T) {
	// P=2 with a single M-parallel split as the strategy's only step: B's axes are (K, N),
	// neither of which is M, so B is never split anywhere in this plan -- it stays replicated
	// across the whole sub-tree and both ranks must hold identical copies. Corrupt rank 1's
	// replica before calling Multiply and confirm the engine's defensive Bcast repairs it
	// before the leaf kernel ever runs.
	problem := strategy.Problem{M: 4, N: 2, K: 2, P: 2}
	strat := strategy.Strategy{Steps: []strategy.Step{{Kind: strategy.Parallel, Axis: strategy.M, Divisor: 2}}, EffectiveP: 2}

	a := [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	b := [][]float64{{1, 2}, {3, 4}}
	c := [][]float64{{0, 0}, {0, 0}, {0, 0}, {0, 0}}

	localA := scatterToRanks(t, strat, problem, layout.MatrixA, a)
	localB := scatterToRanks(t, strat, problem, layout.MatrixB, b)
	localC := scatterToRanks(t, strat, problem, layout.MatrixC, c)

	// B is never split by this strategy, so both ranks own the same full B; stomp rank 1's
	// copy with garbage.
	for i := range localB[1] {
		localB[1][i] = -777
	}

	world := inproc.NewWorld(problem.P)
	errs := make([]error, problem.P)
	done := make(chan int, problem.P)
	for rank := 0; rank < problem.P; rank++ {
		rank := rank
		go func() {
			req := engine.Request{
				Problem:  problem,
				Strategy: &strat,
				A:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localA[rank]},
				B:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localB[rank]},
				C:        engine.MatrixDescriptor{DType: dtype.Float64, Local: localC[rank]},
				Alpha:    complex(1, 0),
				Comm:     world[rank],
				Kernel:   naive.Kernel{},
			}
			errs[rank] = engine.Multiply(context.Background(), req)
			done <- rank
		}()
	}
	for i := 0; i < problem.P; i++ {
		<-done
	}
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}

	got := gatherFromRanks(t, strat, problem, localC)
	want := naiveMultiplyReference(a, b, 1, 0, c)
	assertMatricesClose(t, want, got)
}

// TestMultiplyParallelMThenParallelNKeepsDistinctBSlices is spec section 8's scenario 2
// (`pm2,pn2`): B is not split by the outer M step but is split by the inner N step, so the
// two M-cohorts must NOT be defensively re-broadcast at the M level -- each already holds its
// own correct N-slice of B, computed from the full step list, and a broadcast there would
// stomp one cohort's slice with the other's.
func TestMultiplyParallelMThenParallelNKeepsDistinctBSlices(t *testing.T) {
	problem := strategy.Problem{M: 4, N: 4, K: 2, P: 4}
	strat := strategy.Strategy{
		Steps: []strategy.Step{
			{Kind: strategy.Parallel, Axis: strategy.M, Divisor: 2},
			{Kind: strategy.Parallel, Axis: strategy.N, Divisor: 2},
		},
		EffectiveP: 4,
	}

	a := [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	b := [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}}
	c := make([][]float64, 4)
	for i := range c {
		c[i] = make([]float64, 4)
	}

	got := runDistributed(t, strat, problem, 1, 0, a, b, c)
	want := naiveMultiplyReference(a, b, 1, 0, c)
	assertMatricesClose(t, want, got)
}

// TestMultiplyParallelMSequentialMThenParallelK is spec section 8's scenario 4
// (`pm2,sm2,pk2`): the same defensive-bcast hazard as scenario 2, but with a Sequential step
// in between and the split landing on K instead of N.
func TestMultiplyParallelMSequentialMThenParallelK(t *testing.T) {
	problem := strategy.Problem{M: 4, N: 2, K: 4, P: 4}
	strat := strategy.Strategy{
		Steps: []strategy.Step{
			{Kind: strategy.Parallel, Axis: strategy.M, Divisor: 2},
			{Kind: strategy.Sequential, Axis: strategy.M, Divisor: 2},
			{Kind: strategy.Parallel, Axis: strategy.K, Divisor: 2},
		},
		EffectiveP: 4,
	}

	a := make([][]float64, 4)
	b := make([][]float64, 4)
	c := make([][]float64, 4)
	for i := 0; i < 4; i++ {
		a[i] = []float64{float64(i), float64(i + 1), float64(i + 2), float64(i + 3)}
		b[i] = []float64{float64(4 - i), float64(3 - i)}
		c[i] = []float64{1, 1}
	}

	got := runDistributed(t, strat, problem, 2, 1, a, b, c)
	want := naiveMultiplyReference(a, b, 2, 1, c)
	assertMatricesClose(t, want, got)
}
