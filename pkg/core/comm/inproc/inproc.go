// Package inproc implements comm.Communicator with goroutines and channels standing in for
// ranks and a real transport (MPI, UCX, NCCL). It is this module's analogue of the teacher's
// backends/simplego: a correct, unoptimized, pure-Go reference the tests and examples run
// against, never a competitor to a production transport.
package inproc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/cosma-go/cosma/internal/workerpool"
	"github.com/cosma-go/cosma/pkg/core/comm"
	"github.com/cosma-go/cosma/pkg/core/dtype"
)

// inboxEntry is one posted-but-not-yet-claimed point-to-point message.
type inboxEntry struct {
	srcRank int
	tag     int
	data    []byte
	matched chan struct{}
}

// mailbox is one rank's inbound message queue.
type mailbox struct {
	mu      sync.Mutex
	entries []*inboxEntry
	wake    chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{})}
}

func (mb *mailbox) post(e *inboxEntry) {
	mb.mu.Lock()
	mb.entries = append(mb.entries, e)
	close(mb.wake)
	mb.wake = make(chan struct{})
	mb.mu.Unlock()
}

func (mb *mailbox) tryTake(src, tag int) *inboxEntry {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i, e := range mb.entries {
		if e.srcRank == src && e.tag == tag {
			mb.entries = append(mb.entries[:i:i], mb.entries[i+1:]...)
			return e
		}
	}
	return nil
}

func (mb *mailbox) waitChan() chan struct{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.wake
}

// group is the shared state backing every rank of one communicator: its mailboxes, and a
// registry of already-materialized sub-communicators so every rank's Split call with the
// same divisor lands on the same set of sub-groups.
type group struct {
	mailboxes []*mailbox
	pool      *workerpool.Pool

	subMu      sync.Mutex
	subs       map[int][]*group // keyed by divisor, for Split
	restricted map[int]*group   // keyed by n, for Restrict
}

func newGroup(size int, pool *workerpool.Pool) *group {
	g := &group{mailboxes: make([]*mailbox, size), pool: pool, subs: map[int][]*group{}, restricted: map[int]*group{}}
	for i := range g.mailboxes {
		g.mailboxes[i] = newMailbox()
	}
	return g
}

func (g *group) size() int { return len(g.mailboxes) }

// splitGroups returns the `divisor` sub-groups for this group, creating them on first
// request and caching them for subsequent callers so every rank observes the same
// sub-communicators.
func (g *group) splitGroups(divisor int) []*group {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	if subs, ok := g.subs[divisor]; ok {
		return subs
	}
	subSize := g.size() / divisor
	subs := make([]*group, divisor)
	for i := range subs {
		subs[i] = newGroup(subSize, g.pool)
	}
	g.subs[divisor] = subs
	return subs
}

// restrictGroup returns the cached size-n leading subgroup of g, creating it on first
// request so every rank that keeps calling Restrict(n) lands in the same group.
func (g *group) restrictGroup(n int) *group {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	if sub, ok := g.restricted[n]; ok {
		return sub
	}
	sub := newGroup(n, g.pool)
	g.restricted[n] = sub
	return sub
}

// Communicator is one rank's view of a group.
type Communicator struct {
	g    *group
	rank int
}

// NewWorld builds a size-rank in-process communicator, one Communicator value per rank
// (World()[r].Rank() == r), sharing bounded background parallelism via a single workerpool.
func NewWorld(size int) []comm.Communicator {
	return NewWorldWithParallelism(size, 0)
}

// NewWorldWithParallelism is like NewWorld but caps the number of goroutines the
// communicator spawns to service in-flight requests; parallelism <= 0 uses workerpool.New()'s
// default (runtime.NumCPU()).
func NewWorldWithParallelism(size int, parallelism int) []comm.Communicator {
	if size < 1 {
		panic(errors.Errorf("inproc: NewWorld size must be >= 1, got %d", size))
	}
	var pool *workerpool.Pool
	if parallelism > 0 {
		pool = workerpool.NewWithParallelism(parallelism)
	} else {
		pool = workerpool.New()
	}
	g := newGroup(size, pool)
	world := make([]comm.Communicator, size)
	for r := 0; r < size; r++ {
		world[r] = &Communicator{g: g, rank: r}
	}
	return world
}

// Rank implements comm.Communicator.
func (c *Communicator) Rank() int { return c.rank }

// Size implements comm.Communicator.
func (c *Communicator) Size() int { return c.g.size() }

// Split implements comm.Communicator.
func (c *Communicator) Split(groups int) (comm.Communicator, error) {
	if groups < 1 || c.Size()%groups != 0 {
		return nil, errors.Errorf("inproc: Split(%d) does not evenly divide communicator of size %d", groups, c.Size())
	}
	subs := c.g.splitGroups(groups)
	subSize := c.Size() / groups
	groupIndex := c.rank / subSize
	localRank := c.rank % subSize
	return &Communicator{g: subs[groupIndex], rank: localRank}, nil
}

// Restrict implements comm.Communicator.
func (c *Communicator) Restrict(n int) (comm.Communicator, error) {
	if n < 1 || n > c.Size() {
		return nil, errors.Errorf("inproc: Restrict(%d) out of range for communicator of size %d", n, c.Size())
	}
	if c.rank >= n {
		return nil, errors.Errorf("inproc: rank %d is excluded by Restrict(%d) and must not call it", c.rank, n)
	}
	sub := c.g.restrictGroup(n)
	return &Communicator{g: sub, rank: c.rank}, nil
}

// request implements comm.Request over a channel that is closed on completion.
type request struct {
	id   string
	done chan struct{}
	err  error
}

func newRequest() *request {
	return &request{id: uuid.NewString(), done: make(chan struct{})}
}

func (r *request) complete(err error) {
	r.err = err
	close(r.done)
}

// Wait implements comm.Request.
func (r *request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Test implements comm.Request.
func (r *request) Test() (bool, error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}

// ID implements comm.Request.
func (r *request) ID() string { return r.id }

// ISend implements comm.Communicator.
func (c *Communicator) ISend(ctx context.Context, dest int, data []byte, tag int) (comm.Request, error) {
	if dest < 0 || dest >= c.Size() {
		return nil, errors.Errorf("inproc: ISend dest %d out of range [0, %d)", dest, c.Size())
	}
	req := newRequest()
	klog.V(2).Infof("inproc[req %s]: rank %d ISend %d bytes to rank %d tag %d", req.id, c.rank, len(data), dest, tag)
	e := &inboxEntry{srcRank: c.rank, tag: tag, data: data, matched: make(chan struct{})}
	c.g.pool.Go(func() {
		c.g.mailboxes[dest].post(e)
		c.g.pool.WorkerAsleep()
		defer c.g.pool.WorkerAwake()
		select {
		case <-e.matched:
			req.complete(nil)
		case <-ctx.Done():
			req.complete(ctx.Err())
		}
	})
	return req, nil
}

// IRecv implements comm.Communicator.
func (c *Communicator) IRecv(ctx context.Context, src int, data []byte, tag int) (comm.Request, error) {
	if src < 0 || src >= c.Size() {
		return nil, errors.Errorf("inproc: IRecv src %d out of range [0, %d)", src, c.Size())
	}
	req := newRequest()
	mb := c.g.mailboxes[c.rank]
	c.g.pool.Go(func() {
		for {
			if e := mb.tryTake(src, tag); e != nil {
				if len(e.data) != len(data) {
					req.complete(errors.Errorf("inproc: IRecv length mismatch: got %d bytes, want %d", len(e.data), len(data)))
					close(e.matched)
					return
				}
				copy(data, e.data)
				close(e.matched)
				req.complete(nil)
				return
			}
			w := mb.waitChan()
			c.g.pool.WorkerAsleep()
			select {
			case <-w:
				c.g.pool.WorkerAwake()
			case <-ctx.Done():
				c.g.pool.WorkerAwake()
				req.complete(ctx.Err())
				return
			}
		}
	})
	return req, nil
}

// collectiveTag is a reserved tag range collectives use for their internal point-to-point
// choreography, disjoint from tags application code passes to ISend/IRecv.
const collectiveTag = -1

// Reduce implements comm.Communicator as an allreduce: every rank sends to rank 0, rank 0
// accumulates and broadcasts the sum back.
func (c *Communicator) Reduce(ctx context.Context, data []byte, dt dtype.DType, op comm.Op) error {
	if op != comm.OpSum {
		return errors.Errorf("inproc: unsupported reduction op %v", op)
	}
	const root = 0
	if c.rank == root {
		acc := make([]byte, len(data))
		copy(acc, data)
		for src := 0; src < c.Size(); src++ {
			if src == root {
				continue
			}
			buf := make([]byte, len(data))
			req, err := c.IRecv(ctx, src, buf, collectiveTag)
			if err != nil {
				return err
			}
			if err := req.Wait(ctx); err != nil {
				return errors.Wrapf(err, "inproc: Reduce receiving from rank %d", src)
			}
			dtype.AddInPlace(dt, acc, buf)
		}
		copy(data, acc)
	} else {
		req, err := c.ISend(ctx, root, data, collectiveTag)
		if err != nil {
			return err
		}
		if err := req.Wait(ctx); err != nil {
			return errors.Wrapf(err, "inproc: Reduce sending to root")
		}
	}
	return c.Bcast(ctx, data, root)
}

// Bcast implements comm.Communicator.
func (c *Communicator) Bcast(ctx context.Context, data []byte, root int) error {
	if root < 0 || root >= c.Size() {
		return errors.Errorf("inproc: Bcast root %d out of range [0, %d)", root, c.Size())
	}
	if c.rank == root {
		reqs := make([]comm.Request, 0, c.Size()-1)
		for dest := 0; dest < c.Size(); dest++ {
			if dest == root {
				continue
			}
			req, err := c.ISend(ctx, dest, data, collectiveTag)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
		}
		for _, req := range reqs {
			if err := req.Wait(ctx); err != nil {
				return errors.Wrap(err, "inproc: Bcast")
			}
		}
		return nil
	}
	req, err := c.IRecv(ctx, root, data, collectiveTag)
	if err != nil {
		return err
	}
	return errors.Wrap(req.Wait(ctx), "inproc: Bcast")
}

// Gather implements comm.Communicator.
func (c *Communicator) Gather(ctx context.Context, send, recv []byte, root int) error {
	if root < 0 || root >= c.Size() {
		return errors.Errorf("inproc: Gather root %d out of range [0, %d)", root, c.Size())
	}
	if c.rank == root {
		perRank := len(send)
		if len(recv) != perRank*c.Size() {
			return errors.Errorf("inproc: Gather recv buffer is %d bytes, want %d", len(recv), perRank*c.Size())
		}
		copy(recv[root*perRank:(root+1)*perRank], send)
		for src := 0; src < c.Size(); src++ {
			if src == root {
				continue
			}
			req, err := c.IRecv(ctx, src, recv[src*perRank:(src+1)*perRank], collectiveTag)
			if err != nil {
				return err
			}
			if err := req.Wait(ctx); err != nil {
				return errors.Wrapf(err, "inproc: Gather from rank %d", src)
			}
		}
		return nil
	}
	req, err := c.ISend(ctx, root, send, collectiveTag)
	if err != nil {
		return err
	}
	return errors.Wrap(req.Wait(ctx), "inproc: Gather")
}

// Barrier implements comm.Communicator as a gather-then-broadcast of a single sentinel byte.
func (c *Communicator) Barrier(ctx context.Context) error {
	const root = 0
	send := []byte{1}
	if c.rank == root {
		recv := make([]byte, c.Size())
		if err := c.Gather(ctx, send, recv, root); err != nil {
			return err
		}
		return c.Bcast(ctx, send, root)
	}
	dummy := make([]byte, c.Size())
	if err := c.Gather(ctx, send, dummy, root); err != nil {
		return err
	}
	return c.Bcast(ctx, send, root)
}

// String implements fmt.Stringer, for diagnostics.
func (c *Communicator) String() string {
	return fmt.Sprintf("inproc.Communicator(rank=%d, size=%d)", c.rank, c.Size())
}
