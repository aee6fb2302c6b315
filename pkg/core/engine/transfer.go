package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/comm"
	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/kernel"
)

// Tags used for the engine's own collective choreography, disjoint from any tag application
// code might use directly against a Communicator.
const (
	tagPeerUp   = -101
	tagPeerDown = -102
)

// gatherBytes copies v's elements (respecting Stride/Offset) into a freshly allocated, densely
// packed little-endian byte buffer suitable for handing to a comm.Communicator.
func gatherBytes(v kernel.View) ([]byte, error) {
	res := dtype.Dispatch(v.DType,
		func() gatherResult { b, err := gatherTyped[float32](v); return gatherResult{b, err} },
		func() gatherResult { b, err := gatherTyped[float64](v); return gatherResult{b, err} },
		func() gatherResult { b, err := gatherTyped[complex64](v); return gatherResult{b, err} },
		func() gatherResult { b, err := gatherTyped[complex128](v); return gatherResult{b, err} },
	)
	return res.b, res.err
}

// gatherResult carries a gathered byte buffer alongside its error through dtype.Dispatch, which
// requires every branch to return the same single type.
type gatherResult struct {
	b   []byte
	err error
}

func gatherTyped[T dtype.Supported](v kernel.View) ([]byte, error) {
	data, ok := kernel.As[T](v)
	if !ok {
		return nil, errors.Errorf("engine: view data does not match declared dtype %v", v.DType)
	}
	out := make([]T, v.Rows*v.Cols)
	idx := 0
	for col := 0; col < v.Cols; col++ {
		for row := 0; row < v.Rows; row++ {
			out[idx] = data[v.Index(row, col)]
			idx++
		}
	}
	return dtype.Encode(out), nil
}

// scatterBytes is gatherBytes' inverse: it writes buf's elements back into v's backing storage
// at the physical offsets v.Index describes.
func scatterBytes(v kernel.View, buf []byte) error {
	return dtype.Dispatch(v.DType,
		func() error { return scatterTyped[float32](v, buf) },
		func() error { return scatterTyped[float64](v, buf) },
		func() error { return scatterTyped[complex64](v, buf) },
		func() error { return scatterTyped[complex128](v, buf) },
	)
}

func scatterTyped[T dtype.Supported](v kernel.View, buf []byte) error {
	data, ok := kernel.As[T](v)
	if !ok {
		return errors.Errorf("engine: view data does not match declared dtype %v", v.DType)
	}
	tmp := make([]T, v.Rows*v.Cols)
	dtype.Decode(buf, tmp)
	idx := 0
	for col := 0; col < v.Cols; col++ {
		for row := 0; row < v.Rows; row++ {
			data[v.Index(row, col)] = tmp[idx]
			idx++
		}
	}
	return nil
}

// defensiveBcast re-asserts that every rank of cm holds root rank 0's copy of v. Every rank in
// cm already owns an identically shaped, and (barring a caller bug) identically valued, region
// at this point -- an operand a step's axis does not split is replicated, not partitioned, per
// spec section 4.4's memory model -- so this is a correctness backstop against caller-supplied
// data that has drifted between replicas, and the mechanism by which stale or zeroed data on a
// non-root rank gets corrected before it reaches the local kernel.
func defensiveBcast(ctx context.Context, cm comm.Communicator, v kernel.View) error {
	const root = 0
	buf, err := gatherBytes(v)
	if err != nil {
		return err
	}
	if err := cm.Bcast(ctx, buf, root); err != nil {
		return err
	}
	return scatterBytes(v, buf)
}

// reduceAcrossPeers sums c's contents across the divisor ranks of cm that share this rank's
// position modulo newGroupSize -- the peers that, per DeriveNativeRegions, ended up computing
// partial results for the identical final C region using disjoint K slices (spec section 4.5's
// parallel-K accumulation). cm.Communicator.Split only expresses contiguous block partitions,
// so a divisor-way K split's peer set (a strided residue class, not a contiguous block) cannot
// be reached by a further Split call; this issues the sum-then-broadcast by addressing peers'
// absolute ranks directly with ISend/IRecv, the same root-collects-and-redistributes shape
// pkg/core/comm/inproc's own Reduce uses, restricted to the relevant peer subset instead of the
// whole communicator.
func reduceAcrossPeers(ctx context.Context, cm comm.Communicator, divisor, newGroupSize int, c kernel.View) error {
	localRank := cm.Rank() % newGroupSize
	peers := make([]int, divisor)
	for i := range peers {
		peers[i] = i*newGroupSize + localRank
	}
	root := peers[0]

	buf, err := gatherBytes(c)
	if err != nil {
		return err
	}

	if cm.Rank() == root {
		acc := make([]byte, len(buf))
		copy(acc, buf)
		for _, peer := range peers[1:] {
			incoming := make([]byte, len(buf))
			req, err := cm.IRecv(ctx, peer, incoming, tagPeerUp)
			if err != nil {
				return err
			}
			if err := req.Wait(ctx); err != nil {
				return errors.Wrapf(err, "engine: receiving k-partial from rank %d", peer)
			}
			dtype.AddInPlace(c.DType, acc, incoming)
		}
		copy(buf, acc)
		for _, peer := range peers[1:] {
			req, err := cm.ISend(ctx, peer, buf, tagPeerDown)
			if err != nil {
				return err
			}
			if err := req.Wait(ctx); err != nil {
				return errors.Wrapf(err, "engine: broadcasting k-sum to rank %d", peer)
			}
		}
	} else {
		sendReq, err := cm.ISend(ctx, root, buf, tagPeerUp)
		if err != nil {
			return err
		}
		if err := sendReq.Wait(ctx); err != nil {
			return errors.Wrap(err, "engine: sending k-partial to root peer")
		}
		recvReq, err := cm.IRecv(ctx, root, buf, tagPeerDown)
		if err != nil {
			return err
		}
		if err := recvReq.Wait(ctx); err != nil {
			return errors.Wrap(err, "engine: receiving k-sum from root peer")
		}
	}
	return scatterBytes(c, buf)
}
