package comm

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Tags below zero are reserved for collectives. Point-to-point callers should
// use non-negative tags.
const (
	tagReduce = -1 - iota
	tagBcast
	tagGather
)

// Root is the rank which performs reductions and collects gathered data.
const Root = 0

type reduceFunc func(acc, x []float64)

func sumInto(acc, x []float64) { floats.Add(acc, x) }

func maxInto(acc, x []float64) {
	for i := range acc {
		if x[i] > acc[i] || math.IsNaN(x[i]) {
			acc[i] = x[i]
		}
	}
}

// AllreduceSum replaces xs on every rank with the elementwise sum of xs over
// all ranks. Contributions are added in rank order, so every rank gets the
// same bits regardless of scheduling.
func AllreduceSum(ctx context.Context, c Comm, xs []float64) error {
	return allreduce(ctx, c, xs, sumInto)
}

// AllreduceMax replaces xs on every rank with the elementwise maximum of xs
// over all ranks. NaNs propagate.
func AllreduceMax(ctx context.Context, c Comm, xs []float64) error {
	return allreduce(ctx, c, xs, maxInto)
}

func allreduce(ctx context.Context, c Comm, xs []float64, f reduceFunc) error {
	if c.Size() == 1 {
		return nil
	}

	if c.Rank() != Root {
		if err := c.Send(ctx, Root, tagReduce, xs); err != nil {
			return err
		}
	} else {
		for src := 0; src < c.Size(); src++ {
			if src == Root {
				continue
			}
			x, err := c.Recv(ctx, src, tagReduce)
			if err != nil {
				return err
			}
			if len(x) != len(xs) {
				return fmt.Errorf(
					"reduction length mismatch: rank %d sent %d values, root has %d",
					src, len(x), len(xs),
				)
			}
			f(xs, x)
		}
	}

	return Bcast(ctx, c, Root, xs)
}

// Bcast overwrites xs on every rank with the contents of xs on root.
func Bcast(ctx context.Context, c Comm, root int, xs []float64) error {
	if c.Size() == 1 {
		return nil
	}

	if c.Rank() == root {
		for dest := 0; dest < c.Size(); dest++ {
			if dest == root {
				continue
			}
			if err := c.Send(ctx, dest, tagBcast, xs); err != nil {
				return err
			}
		}
		return nil
	}

	x, err := c.Recv(ctx, root, tagBcast)
	if err != nil {
		return err
	}
	if len(x) != len(xs) {
		return fmt.Errorf(
			"broadcast length mismatch: root sent %d values, rank %d has %d",
			len(x), c.Rank(), len(xs),
		)
	}
	copy(xs, x)
	return nil
}

// Gather collects xs from every rank onto root. On root the result is indexed
// by rank; every other rank gets nil.
func Gather(ctx context.Context, c Comm, root int, xs []float64) ([][]float64, error) {
	if c.Rank() != root {
		return nil, c.Send(ctx, root, tagGather, xs)
	}

	out := make([][]float64, c.Size())
	for src := range out {
		if src == root {
			out[src] = append([]float64(nil), xs...)
			continue
		}
		x, err := c.Recv(ctx, src, tagGather)
		if err != nil {
			return nil, err
		}
		out[src] = x
	}
	return out, nil
}

// Barrier returns once every rank has entered it.
func Barrier(ctx context.Context, c Comm) error {
	return allreduce(ctx, c, []float64{0}, sumInto)
}

// Exchange sends send[i] to peers[i] and returns the buffers received from
// each peer in the same order. Every listed peer must call Exchange with the
// same tag and with this rank in its own peer list. A rank may list itself, in
// which case the buffer is copied without going through a mailbox.
func Exchange(
	ctx context.Context, c Comm, tag int, peers []int, send [][]float64,
) ([][]float64, error) {
	if len(peers) != len(send) {
		return nil, fmt.Errorf(
			"%d peers given, but %d send buffers", len(peers), len(send),
		)
	}

	recv := make([][]float64, len(peers))
	for i, p := range peers {
		if p == c.Rank() {
			recv[i] = append([]float64(nil), send[i]...)
			continue
		}
		if err := c.Send(ctx, p, tag, send[i]); err != nil {
			return nil, err
		}
	}

	for i, p := range peers {
		if p == c.Rank() {
			continue
		}
		buf, err := c.Recv(ctx, p, tag)
		if err != nil {
			return nil, err
		}
		recv[i] = buf
	}

	return recv, nil
}
