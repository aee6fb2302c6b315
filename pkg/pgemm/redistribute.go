package pgemm

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/comm"
	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/layout"
)

// redistributeTag is the point-to-point tag every redistribution message carries. A PGEMM call
// only ever has one redistribution in flight at a time per operand direction, so a single fixed
// tag is enough to disambiguate these messages from the multiply engine's own traffic, which
// runs afterward within its own communicator.
const redistributeTag = 0x505A // "PZ", arbitrary and distinct from the engine package's own tag constants.

// coord is one matrix element's global (row, col) position, used only to correlate what a
// sender enumerates against what a receiver enumerates -- it is never itself put on the wire.
type coord struct{ row, col int }

// redistributeInto moves every element of a matrix from its caller-side layout (from) into a
// destination layout (to), across cm, in place on this rank: elements already owned by rank in
// both from and to are copied locally, and every other element travels over exactly one
// point-to-point message pair, its direction determined identically (and without any prior
// coordination) by every rank, per spec section 6's redistribution being "a pure
// layout-translation boundary".
//
// dt selects fromLocal/toLocal's concrete element type. fromLocal and toLocal must each be a
// []float32, []float64, []complex64 or []complex128 matching dt.
func redistributeInto(ctx context.Context, cm comm.Communicator, dt dtype.DType, from, to layout.LayoutDescriptor, fromLocal, toLocal any) error {
	return dtype.Dispatch(dt,
		func() error {
			return redistributeTyped(ctx, cm, from, to, fromLocal.([]float32), toLocal.([]float32))
		},
		func() error {
			return redistributeTyped(ctx, cm, from, to, fromLocal.([]float64), toLocal.([]float64))
		},
		func() error {
			return redistributeTyped(ctx, cm, from, to, fromLocal.([]complex64), toLocal.([]complex64))
		},
		func() error {
			return redistributeTyped(ctx, cm, from, to, fromLocal.([]complex128), toLocal.([]complex128))
		},
	)
}

// redistributeTyped is redistributeInto's element-typed implementation: exactly one type switch
// per call, not per element (spec section 9, "Polymorphism over element type").
func redistributeTyped[T dtype.Supported](ctx context.Context, cm comm.Communicator, from, to layout.LayoutDescriptor, fromLocal, toLocal []T) error {
	rank := cm.Rank()
	size := cm.Size()

	// Keep only the coordinates whose owner (as GlobalToLocal reports it) is this rank, so that a
	// region replicated on several ranks is sent by, and expected from, its owner alone.
	fromOwned := filterOwnedBy(ownedCoords(from, rank), from, rank)
	toOwned := filterOwnedBy(ownedCoords(to, rank), to, rank)

	// Elements this rank already owns on both sides never touch the transport.
	for _, k := range filterOwnedBy(fromOwned, to, rank) {
		fromIdx, err := localIndex(from, rank, k)
		if err != nil {
			return err
		}
		toIdx, err := localIndex(to, rank, k)
		if err != nil {
			return err
		}
		toLocal[toIdx] = fromLocal[fromIdx]
	}

	// Post every outgoing message before waiting on any incoming one: the two loops are
	// independent (spec section 5, non-blocking sends with explicit completion), and every
	// rank runs both loops over the same 0..size-1 range, so no ordering coordination beyond
	// what ISend/IRecv's own tag+source/dest matching already gives is needed.
	sendReqs := make([]comm.Request, 0, size)
	for dest := 0; dest < size; dest++ {
		if dest == rank {
			continue
		}
		keys := filterOwnedBy(fromOwned, to, dest)
		if len(keys) == 0 {
			continue
		}
		values := make([]T, len(keys))
		for i, k := range keys {
			idx, err := localIndex(from, rank, k)
			if err != nil {
				return err
			}
			values[i] = fromLocal[idx]
		}
		req, err := cm.ISend(ctx, dest, dtype.Encode(values), redistributeTag)
		if err != nil {
			return errors.Wrapf(err, "pgemm: sending redistribution data to rank %d", dest)
		}
		sendReqs = append(sendReqs, req)
	}

	for src := 0; src < size; src++ {
		if src == rank {
			continue
		}
		keys := filterOwnedBy(toOwned, from, src)
		if len(keys) == 0 {
			continue
		}
		buf := make([]byte, len(keys)*dtype.ElementSize(dt(fromLocal)))
		req, err := cm.IRecv(ctx, src, buf, redistributeTag)
		if err != nil {
			return errors.Wrapf(err, "pgemm: receiving redistribution data from rank %d", src)
		}
		if err := req.Wait(ctx); err != nil {
			return errors.Wrapf(err, "pgemm: waiting for redistribution data from rank %d", src)
		}
		values := make([]T, len(keys))
		dtype.Decode(buf, values)
		for i, k := range keys {
			idx, err := localIndex(to, rank, k)
			if err != nil {
				return err
			}
			toLocal[idx] = values[i]
		}
	}

	for _, req := range sendReqs {
		if err := req.Wait(ctx); err != nil {
			return errors.Wrap(err, "pgemm: waiting for a redistribution send to complete")
		}
	}
	return nil
}

// dt recovers T's DType from a same-typed slice, purely so redistributeTyped's byte-buffer
// sizing can call dtype.ElementSize without a second type parameter at every call site.
func dt[T dtype.Supported](_ []T) dtype.DType { return dtype.Of[T]() }

// ownedCoords enumerates every global (row, col) rank owns under desc, across all of its
// (possibly several, for a block-cyclic grid) OwnedRegions.
func ownedCoords(desc layout.LayoutDescriptor, rank int) []coord {
	var coords []coord
	for _, region := range desc.OwnedRegions(rank) {
		for r := region.Rows.First(); r <= region.Rows.Last(); r++ {
			for c := region.Cols.First(); c <= region.Cols.Last(); c++ {
				coords = append(coords, coord{row: r, col: c})
			}
		}
	}
	return coords
}

// filterOwnedBy returns the subset of coords that other assigns to owner, sorted by
// (col, row) -- a canonical order both the sending and the receiving rank can reproduce
// independently from the same pair of layouts, so values can be exchanged as a plain
// positional array with no coordinate metadata on the wire.
func filterOwnedBy(coords []coord, other layout.LayoutDescriptor, owner int) []coord {
	var out []coord
	for _, k := range coords {
		if r, _, _, ok := other.GlobalToLocal(k.row, k.col); ok && r == owner {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].col != out[j].col {
			return out[i].col < out[j].col
		}
		return out[i].row < out[j].row
	})
	return out
}

// localIndex flattens desc's (regionIndex, localOffset) addressing of k for rank into a single
// offset into that rank's contiguous Local buffer, which holds OwnedRegions' regions back to
// back in order (Operand's documented convention).
func localIndex(desc layout.LayoutDescriptor, rank int, k coord) (int, error) {
	owner, regionIndex, localOffset, ok := desc.GlobalToLocal(k.row, k.col)
	if !ok {
		return 0, errors.Errorf("pgemm: layout does not assign an owner to element (%d, %d)", k.row, k.col)
	}
	if owner != rank {
		return 0, errors.Errorf("pgemm: element (%d, %d) is owned by rank %d, not %d", k.row, k.col, owner, rank)
	}
	regions := desc.OwnedRegions(rank)
	if regionIndex < 0 || regionIndex >= len(regions) {
		return 0, errors.Errorf("pgemm: region index %d out of range for rank %d's %d owned regions", regionIndex, rank, len(regions))
	}
	offset := 0
	for i := 0; i < regionIndex; i++ {
		offset += regions[i].Size()
	}
	return offset + localOffset, nil
}
