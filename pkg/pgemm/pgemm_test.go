package pgemm_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosma-go/cosma/pkg/core/comm/inproc"
	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/kernel/naive"
	"github.com/cosma-go/cosma/pkg/layout/blockcyclic"
	"github.com/cosma-go/cosma/pkg/pgemm"
)

func randomDense(rng *rand.Rand, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, cols)
		for c := range out[r] {
			out[r][c] = rng.Float64()*2 - 1
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

// flattenOffset turns GlobalToLocal's (regionIndex, localOffset) pair into a position in
// rank's own contiguous Local buffer, which holds OwnedRegions' regions back to back --
// the same convention pgemm.Operand documents and pgemm's own redistribution relies on.
func flattenOffset(desc *blockcyclic.Descriptor, rank, regionIndex, offset int) int {
	regions := desc.OwnedRegions(rank)
	base := 0
	for i := 0; i < regionIndex; i++ {
		base += regions[i].Size()
	}
	return base + offset
}

func scatterBlockCyclic(t *testing.T, desc *blockcyclic.Descriptor, full [][]float64) [][]float64 {
	t.Helper()
	numProcs := desc.NumProcs()
	locals := make([][]float64, numProcs)
	for rank := 0; rank < numProcs; rank++ {
		total := 0
		for _, region := range desc.OwnedRegions(rank) {
			total += region.Size()
		}
		locals[rank] = make([]float64, total)
	}
	for row := 0; row < len(full); row++ {
		for col := 0; col < len(full[0]); col++ {
			rank, regionIndex, offset, ok := desc.GlobalToLocal(row, col)
			require.True(t, ok, "element (%d,%d)", row, col)
			locals[rank][flattenOffset(desc, rank, regionIndex, offset)] = full[row][col]
		}
	}
	return locals
}

func gatherBlockCyclic(t *testing.T, desc *blockcyclic.Descriptor, locals [][]float64, rows, cols int) [][]float64 {
	t.Helper()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			rank, regionIndex, offset, ok := desc.GlobalToLocal(row, col)
			require.True(t, ok, "element (%d,%d)", row, col)
			out[row][col] = locals[rank][flattenOffset(desc, rank, regionIndex, offset)]
		}
	}
	return out
}

// TestPGEMMRoundTripsThroughBlockCyclicLayout drives the full ScaLAPACK-shaped entry point:
// three independently block-cyclic-distributed operands (different grids and block shapes),
// redistributed into COSMA's native layout, multiplied, and redistributed back, matching a
// single-threaded reference GEMM (spec section 8, testable properties 1 and 2 together).
func TestPGEMMRoundTripsThroughBlockCyclicLayout(t *testing.T) {
	const m, n, k = 12, 9, 15
	const pgrid, qgrid = 2, 2
	const p = pgrid * qgrid

	descA, err := blockcyclic.New(m, k, 3, 4, pgrid, qgrid)
	require.NoError(t, err)
	descB, err := blockcyclic.New(k, n, 4, 3, pgrid, qgrid)
	require.NoError(t, err)
	descC, err := blockcyclic.New(m, n, 3, 3, pgrid, qgrid)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	a := randomDense(rng, m, k)
	b := randomDense(rng, k, n)
	c := randomDense(rng, m, n)
	want := naiveMultiplyReference(a, b, 2, 3, c)

	localA := scatterBlockCyclic(t, descA, a)
	localB := scatterBlockCyclic(t, descB, b)
	localC := scatterBlockCyclic(t, descC, c)

	world := inproc.NewWorld(p)
	errs := make([]error, p)
	done := make(chan int, p)
	for rank := 0; rank < p; rank++ {
		rank := rank
		go func() {
			defer func() { done <- rank }()
			req := pgemm.Request{
				M: m, N: n, K: k,
				Alpha: complex(2, 0),
				Beta:  complex(3, 0),
				A:     pgemm.Operand{DType: dtype.Float64, Layout: descA, Local: localA[rank]},
				B:     pgemm.Operand{DType: dtype.Float64, Layout: descB, Local: localB[rank]},
				C:     pgemm.Operand{DType: dtype.Float64, Layout: descC, Local: localC[rank]},
				Comm:   world[rank],
				Kernel: naive.Kernel{},
			}
			errs[rank] = pgemm.PGEMM(context.Background(), req)
		}()
	}
	for i := 0; i < p; i++ {
		<-done
	}
	for rank, rankErr := range errs {
		require.NoError(t, rankErr, "rank %d", rank)
	}

	got := gatherBlockCyclic(t, descC, localC, m, n)
	assertMatricesClose(t, want, got)
}

// TestPGEMMRejectsMismatchedDTypes exercises the input-validation path (spec section 7):
// no communication should be attempted before this check fails.
func TestPGEMMRejectsMismatchedDTypes(t *testing.T) {
	desc, err := blockcyclic.New(4, 4, 2, 2, 1, 1)
	require.NoError(t, err)
	world := inproc.NewWorld(1)
	req := pgemm.Request{
		M: 4, N: 4, K: 4,
		Alpha: 1, Beta: 0,
		A:      pgemm.Operand{DType: dtype.Float64, Layout: desc, Local: make([]float64, 16)},
		B:      pgemm.Operand{DType: dtype.Float32, Layout: desc, Local: make([]float32, 16)},
		C:      pgemm.Operand{DType: dtype.Float64, Layout: desc, Local: make([]float64, 16)},
		Comm:   world[0],
		Kernel: naive.Kernel{},
	}
	err = pgemm.PGEMM(context.Background(), req)
	assert.Error(t, err)
}

// TestPGEMMRejectsLayoutWiderThanCommunicator exercises spec section 7's fourth named
// input-validation case: a layout descriptor that can hand back an owner outside the
// communicator must be rejected before any redistribution is attempted.
func TestPGEMMRejectsLayoutWiderThanCommunicator(t *testing.T) {
	desc, err := blockcyclic.New(4, 4, 2, 2, 2, 2) // spans 4 ranks
	require.NoError(t, err)
	world := inproc.NewWorld(2) // only 2 ranks available
	req := pgemm.Request{
		M: 4, N: 4, K: 4,
		Alpha: 1, Beta: 0,
		A:      pgemm.Operand{DType: dtype.Float64, Layout: desc, Local: make([]float64, 4)},
		B:      pgemm.Operand{DType: dtype.Float64, Layout: desc, Local: make([]float64, 4)},
		C:      pgemm.Operand{DType: dtype.Float64, Layout: desc, Local: make([]float64, 4)},
		Comm:   world[0],
		Kernel: naive.Kernel{},
	}
	err = pgemm.PGEMM(context.Background(), req)
	assert.Error(t, err)
}
