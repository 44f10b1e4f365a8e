/*
package comm is a small message-passing layer for running a fixed group of
ranks inside one process.

Each rank is a goroutine. Ranks exchange copies of []float64 buffers over
per-pair FIFO channels, so a rank only ever mutates memory it owns. The
collectives built on top of Send and Recv (AllreduceSum, AllreduceMax, Bcast,
Gather, Exchange) reduce in rank order, which makes their results independent
of goroutine scheduling.
*/
package comm

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Comm is the view of the process group owned by a single rank. A Comm must
// only be used by the goroutine it was handed to.
type Comm interface {
	Rank() int
	Size() int

	// Send delivers a copy of buf to rank dest. It only blocks if the
	// destination's mailbox is full.
	Send(ctx context.Context, dest, tag int, buf []float64) error
	// Recv returns the next message from rank src with the given tag.
	// Messages from src with other tags are held until asked for.
	Recv(ctx context.Context, src, tag int) ([]float64, error)
}

// mailboxLen is the number of messages that may be in flight between any
// ordered pair of ranks before Send blocks.
const mailboxLen = 64

type message struct {
	tag  int
	data []float64
}

type world struct {
	size  int
	boxes [][]chan message // boxes[src][dest]
}

type rankComm struct {
	rank    int
	w       *world
	pending [][]message // pending[src], only touched by the owning rank
}

// Run starts size ranks, each calling fn with its own Comm, and waits for
// all of them to return. The first non-nil error cancels the context passed
// to every rank, which unblocks any rank waiting in Send or Recv, and is
// returned by Run. A panic inside a rank is converted into an error.
func Run(
	ctx context.Context, size int,
	fn func(ctx context.Context, c Comm) error,
) error {
	if size < 1 {
		return fmt.Errorf("process group must contain at least one rank, not %d", size)
	}

	w := &world{size: size, boxes: make([][]chan message, size)}
	for src := range w.boxes {
		w.boxes[src] = make([]chan message, size)
		for dest := range w.boxes[src] {
			w.boxes[src][dest] = make(chan message, mailboxLen)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		c := &rankComm{rank: rank, w: w, pending: make([][]message, size)}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("rank %d panicked: %v\n%s", c.rank, r, debug.Stack())
				}
			}()
			return fn(gctx, c)
		})
	}
	return g.Wait()
}

func (c *rankComm) Rank() int { return c.rank }
func (c *rankComm) Size() int { return c.w.size }

func (c *rankComm) checkRank(r int) error {
	if r < 0 || r >= c.w.size {
		return fmt.Errorf("rank %d out of range [0, %d)", r, c.w.size)
	}
	return nil
}

func (c *rankComm) Send(ctx context.Context, dest, tag int, buf []float64) error {
	if err := c.checkRank(dest); err != nil {
		return err
	}

	data := make([]float64, len(buf))
	copy(data, buf)

	select {
	case c.w.boxes[c.rank][dest] <- message{tag, data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *rankComm) Recv(ctx context.Context, src, tag int) ([]float64, error) {
	if err := c.checkRank(src); err != nil {
		return nil, err
	}

	pend := c.pending[src]
	for i, msg := range pend {
		if msg.tag == tag {
			c.pending[src] = append(pend[:i], pend[i+1:]...)
			return msg.data, nil
		}
	}

	box := c.w.boxes[src][c.rank]
	for {
		select {
		case msg := <-box:
			if msg.tag == tag {
				return msg.data, nil
			}
			c.pending[src] = append(c.pending[src], msg)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
