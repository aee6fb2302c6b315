package layout

import (
	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/interval"
	"github.com/cosma-go/cosma/pkg/core/strategy"
)

// Matrix identifies which of the three operands a LevelPlan entry or derived layout concerns.
type Matrix byte

const (
	MatrixA Matrix = 'A'
	MatrixB Matrix = 'B'
	MatrixC Matrix = 'C'
)

// axesOf returns the two Strategy axes that appear in matrix's dimensions: A is (M, K), B is
// (K, N), C is (M, N).
func axesOf(matrix Matrix) (row, col strategy.Axis) {
	switch matrix {
	case MatrixA:
		return strategy.M, strategy.K
	case MatrixB:
		return strategy.K, strategy.N
	default:
		return strategy.M, strategy.N
	}
}

// LevelPlan is the per-step metadata the multiply engine needs to drive one recursion level:
// which matrices the step's axis splits (as opposed to leaving broadcast/replicated across
// the new sub-communicator), and whether C needs a post-recursion reduction (spec section 4.5,
// parallel-K).
type LevelPlan struct {
	Step strategy.Step
	// SplitsA/SplitsB/SplitsC report whether this step's axis is one of that matrix's two
	// dimensions -- the matrix is partitioned at this level if true, otherwise this step leaves
	// its current region unchanged on every rank (any re-broadcast is governed by Replicated*
	// below, not by this flag).
	SplitsA, SplitsB, SplitsC bool
	// ReplicatedA/ReplicatedB/ReplicatedC report whether that matrix is held identically
	// across every rank of the communicator this level splits, for the rest of the recursion: not
	// split by this step, and not split by any Parallel step deeper in the plan either. A
	// matrix this step alone does not split can still be partitioned differently within the
	// sub-communicator by a later Parallel step (e.g. B under pm2 followed by pn2), so only a
	// matrix that stays unsplit all the way to the leaf is safe to defensively re-broadcast.
	ReplicatedA, ReplicatedB, ReplicatedC bool
	// ReduceC is true exactly for a Parallel step on axis K: C is not split at this level,
	// and after the recursive call returns, the sub-communicator's partial C contributions
	// must be allreduced into the outer C buffer.
	ReduceC bool
}

// Mapper compiles a Strategy into the ordered []LevelPlan the multiply engine walks.
type Mapper struct{}

// NewMapper returns a ready-to-use Mapper. It carries no state: the plan is a pure function
// of the Strategy (spec section 4.3's "computed once, immutable thereafter").
func NewMapper() *Mapper { return &Mapper{} }

// Compile derives one LevelPlan per Strategy step.
func (m *Mapper) Compile(strat strategy.Strategy) []LevelPlan {
	plans := make([]LevelPlan, len(strat.Steps))
	for i, step := range strat.Steps {
		plans[i] = LevelPlan{
			Step:    step,
			SplitsA: axisAppliesTo(MatrixA, step.Axis),
			SplitsB: axisAppliesTo(MatrixB, step.Axis),
			SplitsC: axisAppliesTo(MatrixC, step.Axis),
			ReduceC: step.Kind == strategy.Parallel && step.Axis == strategy.K,
		}
	}

	// A matrix is replicated at depth i only if no Parallel step at or after i ever splits it;
	// scan backward so a split found deeper in the plan also marks every shallower depth as
	// non-replicated for that matrix.
	replicatedA, replicatedB, replicatedC := true, true, true
	for i := len(plans) - 1; i >= 0; i-- {
		if plans[i].Step.Kind == strategy.Parallel {
			if plans[i].SplitsA {
				replicatedA = false
			}
			if plans[i].SplitsB {
				replicatedB = false
			}
			if plans[i].SplitsC {
				replicatedC = false
			}
		}
		plans[i].ReplicatedA = replicatedA
		plans[i].ReplicatedB = replicatedB
		plans[i].ReplicatedC = replicatedC
	}
	return plans
}

func axisAppliesTo(matrix Matrix, axis strategy.Axis) bool {
	row, col := axesOf(matrix)
	return axis == row || axis == col
}

// DeriveNativeRegions computes, for one matrix, the final leaf-level Interval2D each rank
// owns under strat's Parallel steps (spec section 6's native layout). Sequential steps do
// not change ownership -- they restrict a rank's own region in place during execution -- so
// only Parallel steps consume from strat.Steps here. Ranks at index >= strat.EffectiveP are
// idle and own no region.
func DeriveNativeRegions(strat strategy.Strategy, problem strategy.Problem, matrix Matrix) ([]interval.Interval2D, []bool, error) {
	if strat.EffectiveP <= 0 {
		return nil, nil, errors.Errorf("layout: strategy has non-positive EffectiveP %d", strat.EffectiveP)
	}
	rowAxis, colAxis := axesOf(matrix)
	rowLen, colLen := dimLength(problem, rowAxis), dimLength(problem, colAxis)

	regions := make([]interval.Interval2D, problem.P)
	idle := make([]bool, problem.P)
	for rank := 0; rank < problem.P; rank++ {
		if rank >= strat.EffectiveP {
			idle[rank] = true
			continue
		}
		rows := interval.Must(0, rowLen-1)
		cols := interval.Must(0, colLen-1)
		groupSize := strat.EffectiveP
		localRank := rank
		for _, step := range strat.Steps {
			if step.Kind != strategy.Parallel {
				continue
			}
			newGroupSize := groupSize / step.Divisor
			groupIndex := localRank / newGroupSize
			localRank = localRank % newGroupSize
			groupSize = newGroupSize
			switch step.Axis {
			case rowAxis:
				rows = rows.Subinterval(step.Divisor, groupIndex)
			case colAxis:
				cols = cols.Subinterval(step.Divisor, groupIndex)
			}
		}
		regions[rank] = interval.NewInterval2D(rows, cols)
	}
	return regions, idle, nil
}

func dimLength(problem strategy.Problem, axis strategy.Axis) int {
	switch axis {
	case strategy.M:
		return problem.M
	case strategy.N:
		return problem.N
	default:
		return problem.K
	}
}
