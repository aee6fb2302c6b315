// Package strategy compiles a matrix-multiplication problem (m, n, k, P, memory limit) into
// an ordered list of Parallel/Sequential Steps: the schedule the data-layout mapper and
// multiply engine both walk (spec section 4.2). Compilation is deterministic -- identical
// inputs and no user override always yield a bit-identical Strategy, which is what lets the
// multiply engine's overlap design assume every rank traverses the plan list in lockstep
// (spec section 5).
package strategy

import (
	"fmt"

	"github.com/pkg/errors"
)

// Axis names one of the three matrix-multiplication dimensions a step splits.
type Axis int8

const (
	M Axis = iota
	N
	K
)

// String implements fmt.Stringer.
func (a Axis) String() string {
	switch a {
	case M:
		return "m"
	case N:
		return "n"
	case K:
		return "k"
	default:
		return "?"
	}
}

// Kind distinguishes a Parallel step (partitions the communicator) from a Sequential step
// (one process handles successive slices back-to-back).
type Kind int8

const (
	Parallel Kind = iota
	Sequential
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Parallel:
		return "p"
	case Sequential:
		return "s"
	default:
		return "?"
	}
}

// Step is one node of a compiled Strategy: split axis Axis by Divisor, either partitioning
// the communicator (Parallel) or iterating in place (Sequential).
type Step struct {
	Kind    Kind
	Axis    Axis
	Divisor int
}

// String renders a Step in the strategy DSL's triplet form, e.g. "pm2".
func (s Step) String() string {
	return fmt.Sprintf("%s%s%d", s.Kind, s.Axis, s.Divisor)
}

// Problem is the shape a Strategy is compiled for: m x k times k x n, spread over P processes.
type Problem struct {
	M, N, K, P int
}

// Validate checks that a Problem's dimensions and process count are usable at all.
func (p Problem) Validate() error {
	if p.M <= 0 || p.N <= 0 || p.K <= 0 {
		return errors.Errorf("strategy: m, n, k must be positive, got (%d, %d, %d)", p.M, p.N, p.K)
	}
	if p.P <= 0 {
		return errors.Errorf("strategy: P must be positive, got %d", p.P)
	}
	return nil
}

// Options controls strategy compilation.
type Options struct {
	// MemoryLimit is the per-process element budget S. Zero means unlimited: the compiler
	// will never emit a Sequential step to shrink memory (spec section 4.2's algorithm is
	// only exercised for callers that actually set a budget).
	MemoryLimit int
	// UserSteps, if non-empty, is used verbatim after validation instead of being derived
	// (spec section 4.2, "User override").
	UserSteps []Step
}

// Strategy is a compiled, ordered list of Steps plus the number of processes it actually
// uses (EffectiveP <= Problem.P; the remainder are idle for the whole multiply, spec
// section 4.2 "May reduce P").
type Strategy struct {
	Steps      []Step
	EffectiveP int
}

// String renders the Strategy in the DSL's comma-separated form.
func (s Strategy) String() string {
	return Format(s.Steps)
}

// dims tracks the current per-process interval lengths of m, n, k during compilation.
type dims struct {
	m, n, k int
}

func (d dims) length(axis Axis) int {
	switch axis {
	case M:
		return d.m
	case N:
		return d.n
	default:
		return d.k
	}
}

func (d dims) with(axis Axis, length int) dims {
	switch axis {
	case M:
		d.m = length
	case N:
		d.n = length
	default:
		d.k = length
	}
	return d
}

// memoryElements is the analytic per-process memory recurrence: the element count of the
// three local sub-blocks of A, B, C at the current dims (spec section 4.4).
func (d dims) memoryElements() int {
	return d.m*d.k + d.k*d.n + d.m*d.n
}

// ceilDiv is the worst-case (largest) sub-interval length after splitting a length-L axis
// into d pieces -- matches interval.Interval.LargestSubintervalLength without importing the
// interval package purely for one arithmetic identity.
func ceilDiv(length, divisor int) int {
	q := length / divisor
	if length%divisor != 0 {
		q++
	}
	return q
}

// Compile derives a Strategy for problem under opts. With no UserSteps, it auto-derives one
// using the deterministic tie-break order named in spec section 4.2: prefer K-splits over M,
// M over N, parallel over sequential, smaller divisors first -- realized here as "K before M
// before N" axis preference and always-divisor-2 parallel splits, since Compile first
// reduces P to the largest power of two not exceeding it (see effectiveProcessCount),
// making 2 always the smallest available divisor at every step.
func Compile(problem Problem, opts Options) (Strategy, error) {
	if err := problem.Validate(); err != nil {
		return Strategy{}, err
	}
	if len(opts.UserSteps) > 0 {
		if err := Validate(problem, opts.UserSteps, opts.MemoryLimit); err != nil {
			return Strategy{}, err
		}
		return Strategy{Steps: append([]Step(nil), opts.UserSteps...), EffectiveP: problem.P}, nil
	}
	return autoCompile(problem, opts)
}

// axisPreference is the compiler's fixed tie-break order: K before M before N.
var axisPreference = [3]Axis{K, M, N}

func autoCompile(problem Problem, opts Options) (Strategy, error) {
	effP := effectiveProcessCount(problem.P)
	remainingP := effP
	d := dims{m: problem.M, n: problem.N, k: problem.K}
	var steps []Step

	for remainingP > 1 {
		if opts.MemoryLimit > 0 && d.memoryElements() > opts.MemoryLimit {
			axis, divisor, err := chooseSequentialSplit(d, opts.MemoryLimit)
			if err != nil {
				return Strategy{}, err
			}
			steps = append(steps, Step{Kind: Sequential, Axis: axis, Divisor: divisor})
			d = d.with(axis, ceilDiv(d.length(axis), divisor))
			continue
		}
		axis, ok := chooseParallelAxis(d)
		if !ok {
			// No axis has room left to split usefully; the remaining processes stay idle.
			break
		}
		const divisor = 2 // remainingP is a power of two by construction.
		steps = append(steps, Step{Kind: Parallel, Axis: axis, Divisor: divisor})
		d = d.with(axis, ceilDiv(d.length(axis), divisor))
		remainingP /= divisor
	}

	// A final defensive pass: if the leaf still exceeds the memory budget, keep shrinking
	// sequentially down to single-element tiles before giving up.
	for opts.MemoryLimit > 0 && d.memoryElements() > opts.MemoryLimit {
		axis, divisor, err := chooseSequentialSplit(d, opts.MemoryLimit)
		if err != nil {
			return Strategy{}, err
		}
		steps = append(steps, Step{Kind: Sequential, Axis: axis, Divisor: divisor})
		d = d.with(axis, ceilDiv(d.length(axis), divisor))
	}

	actualEffectiveP := effectiveProcessCount(problem.P)
	if remainingP > 1 {
		// Some of effectiveProcessCount(P) itself went idle because no axis had room left.
		actualEffectiveP /= remainingP
	}
	return Strategy{Steps: steps, EffectiveP: actualEffectiveP}, nil
}

// chooseParallelAxis picks the first axis (in K, M, N preference order) whose current
// length is still >= 2, i.e. has room for another split.
func chooseParallelAxis(d dims) (Axis, bool) {
	for _, axis := range axisPreference {
		if d.length(axis) >= 2 {
			return axis, true
		}
	}
	return 0, false
}

// chooseSequentialSplit picks the largest current axis and divides it by 2, per spec section
// 4.2's sequential-step rule. Splitting a single axis by however large a divisor never shrinks
// the other two axes' product, so it cannot in general bring memoryElements under limit in one
// step; the caller loops, re-checking the budget and calling this again (against whichever axis
// is now largest) until every axis has been driven down, which is why this always makes the
// smallest possible amount of progress (divisor 2) rather than searching for a one-shot divisor.
// It errors only once every axis is already down to a single element, i.e. no further split can
// reduce memoryElements at all.
func chooseSequentialSplit(d dims, limit int) (Axis, int, error) {
	axis := M
	if d.n > d.length(axis) {
		axis = N
	}
	if d.k > d.length(axis) {
		axis = K
	}
	if d.length(axis) < 2 {
		return 0, 0, errors.Errorf("strategy: memory budget %d unsatisfiable even at single-element tiles for dims (m=%d,n=%d,k=%d)", limit, d.m, d.n, d.k)
	}
	return axis, 2, nil
}

// effectiveProcessCount returns the largest power of two <= p (or p itself if p is 1 or 0).
// This is the compiler's "clean factorization" policy (spec section 4.2, "May reduce P"):
// an odd prime factor (P=3, P=5, P=6, ...) does not admit a run of divisor-2 parallel steps,
// so rather than emit an oddly-sized split the compiler idles enough ranks to make the
// active count a power of two.
func effectiveProcessCount(p int) int {
	if p <= 1 {
		return p
	}
	n := 1
	for n*2 <= p {
		n *= 2
	}
	return n
}

// Validate checks a user-supplied step list against problem: the product of Parallel
// divisors must equal P, and the memory recurrence over the steps must fit limit (spec
// section 4.2, "User override"). limit <= 0 means no memory check.
func Validate(problem Problem, steps []Step, limit int) error {
	if err := problem.Validate(); err != nil {
		return err
	}
	d := dims{m: problem.M, n: problem.N, k: problem.K}
	parallelProduct := 1
	for _, s := range steps {
		if s.Divisor < 2 {
			return errors.Errorf("strategy: step %v has divisor < 2", s)
		}
		if s.Kind == Parallel {
			parallelProduct *= s.Divisor
		}
		d = d.with(s.Axis, ceilDiv(d.length(s.Axis), s.Divisor))
	}
	if parallelProduct != problem.P {
		return errors.Errorf("strategy: parallel-step divisor product %d does not equal P=%d", parallelProduct, problem.P)
	}
	if limit > 0 && d.memoryElements() > limit {
		return errors.Errorf("strategy: user strategy exceeds memory budget %d (needs %d)", limit, d.memoryElements())
	}
	return nil
}

// MemoryRequired replays the Strategy's steps against the given problem dimensions and
// returns the final per-process element count -- the analytic recurrence testable property
// 4 (spec section 8) checks against a memory limit.
func (s Strategy) MemoryRequired(m, n, k int) int {
	d := dims{m: m, n: n, k: k}
	for _, step := range s.Steps {
		d = d.with(step.Axis, ceilDiv(d.length(step.Axis), step.Divisor))
	}
	return d.memoryElements()
}

// LevelSize is the per-process element count of each matrix's working sub-block at one level
// of a Strategy's recursion.
type LevelSize struct {
	A, B, C int
}

// LevelSizes replays the Strategy's steps against (m, n, k), returning one LevelSize per level
// from the top of the recursion (index 0, before any step is applied) down to the leaf (the
// last index, after every step). This is the red-blue pebbling recurrence the buffer pool
// sizes its arenas from (spec section 4.4): a buffer only ever needs to be as large as the
// largest working sub-block any level of the recursion produces, since levels execute in
// strict sequence and sub-views are reused, never accumulated.
func (s Strategy) LevelSizes(m, n, k int) []LevelSize {
	d := dims{m: m, n: n, k: k}
	sizes := make([]LevelSize, 0, len(s.Steps)+1)
	sizes = append(sizes, LevelSize{A: d.m * d.k, B: d.k * d.n, C: d.m * d.n})
	for _, step := range s.Steps {
		d = d.with(step.Axis, ceilDiv(d.length(step.Axis), step.Divisor))
		sizes = append(sizes, LevelSize{A: d.m * d.k, B: d.k * d.n, C: d.m * d.n})
	}
	return sizes
}

// ParallelDivisorProduct returns the product of all Parallel steps' divisors, which must
// equal the Strategy's EffectiveP.
func (s Strategy) ParallelDivisorProduct() int {
	product := 1
	for _, step := range s.Steps {
		if step.Kind == Parallel {
			product *= step.Divisor
		}
	}
	return product
}
