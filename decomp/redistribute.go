package decomp

import (
	"context"
	"fmt"

	"github.com/phil-mansfield/binscf/comm"
)

const (
	tagRowStage = 100 + iota
	tagColumnStage
	tagScatter
)

// Redistribute moves this rank's part of a field from one layout to another
// and returns the rank's part in the new layout. Every rank must call it
// with the same from and to. Values are copied, never combined, so a round
// trip reproduces the input exactly.
func (l *Layout) Redistribute(
	ctx context.Context, c comm.Comm, field []float64, from, to Kind,
) ([]float64, error) {
	if want := l.Block(from, c.Rank()).Len(); len(field) != want {
		return nil, fmt.Errorf(
			"%v field on rank %d has length %d, expected %d",
			from, c.Rank(), len(field), want,
		)
	}

	switch {
	case from == to:
		return append([]float64(nil), field...), nil
	case from == Physical && to == Solver:
		mid, err := l.transpose(ctx, c, tagRowStage, l.Row(c.Rank()), field, Physical, intermediate)
		if err != nil {
			return nil, err
		}
		return l.transpose(ctx, c, tagColumnStage, l.Column(c.Rank()), mid, intermediate, Solver)
	case from == Solver && to == Physical:
		mid, err := l.transpose(ctx, c, tagColumnStage, l.Column(c.Rank()), field, Solver, intermediate)
		if err != nil {
			return nil, err
		}
		return l.transpose(ctx, c, tagRowStage, l.Row(c.Rank()), mid, intermediate, Physical)
	}
	return nil, fmt.Errorf("cannot redistribute from %v to %v", from, to)
}

// transpose exchanges data within a group of peers. Each rank sends every
// peer the overlap of its own from block with that peer's to block.
func (l *Layout) transpose(
	ctx context.Context, c comm.Comm, tag int, peers []int,
	field []float64, from, to Kind,
) ([]float64, error) {
	src := l.Block(from, c.Rank())
	dst := l.Block(to, c.Rank())

	send := make([][]float64, len(peers))
	for n, p := range peers {
		if sub, ok := src.Intersect(l.Block(to, p)); ok {
			send[n] = pack(src, sub, field, nil)
		}
	}

	recv, err := comm.Exchange(ctx, c, tag, peers, send)
	if err != nil {
		return nil, err
	}

	out := make([]float64, dst.Len())
	for n, p := range peers {
		sub, ok := l.Block(from, p).Intersect(dst)
		if !ok {
			continue
		}
		if len(recv[n]) != sub.Len() {
			return nil, fmt.Errorf(
				"rank %d sent %d values to rank %d, expected %d",
				p, len(recv[n]), c.Rank(), sub.Len(),
			)
		}
		unpack(dst, sub, recv[n], out)
	}

	return out, nil
}

// pack appends the cells of sub, which must lie inside b, to buf.
func pack(b, sub Block, field, buf []float64) []float64 {
	for i := sub.I0; i < sub.I0+sub.NI; i++ {
		for k := sub.K0; k < sub.K0+sub.NK; k++ {
			start := b.Idx(i, k, sub.J0)
			buf = append(buf, field[start:start+sub.NJ]...)
		}
	}
	return buf
}

// unpack is the inverse of pack.
func unpack(b, sub Block, buf, field []float64) {
	n := 0
	for i := sub.I0; i < sub.I0+sub.NI; i++ {
		for k := sub.K0; k < sub.K0+sub.NK; k++ {
			start := b.Idx(i, k, sub.J0)
			copy(field[start:start+sub.NJ], buf[n:n+sub.NJ])
			n += sub.NJ
		}
	}
}

// Gather assembles a Physical layout field on comm.Root as a full grid array
// indexed by grid.Idx. Boundary cells are left at zero. Every other rank
// gets nil.
func (l *Layout) Gather(
	ctx context.Context, c comm.Comm, field []float64,
) ([]float64, error) {
	parts, err := comm.Gather(ctx, c, comm.Root, field)
	if err != nil || c.Rank() != comm.Root {
		return nil, err
	}

	g := l.G
	out := make([]float64, g.Len())
	for rank, part := range parts {
		b := l.Block(Physical, rank)
		if len(part) != b.Len() {
			return nil, fmt.Errorf(
				"rank %d gathered %d values, expected %d", rank, len(part), b.Len(),
			)
		}
		for i := b.I0; i < b.I0+b.NI; i++ {
			for k := b.K0; k < b.K0+b.NK; k++ {
				start := b.Idx(i, k, 0)
				copy(out[g.Idx(i, k, 0):g.Idx(i, k, 0)+g.NumPhi], part[start:start+b.NJ])
			}
		}
	}
	return out, nil
}

// Scatter is the inverse of Gather: it hands each rank its Physical block of
// a full grid array held on comm.Root. global is ignored on other ranks.
func (l *Layout) Scatter(
	ctx context.Context, c comm.Comm, global []float64,
) ([]float64, error) {
	own := l.Block(Physical, c.Rank())
	if c.Rank() == comm.Root {
		var mine []float64
		for rank := 0; rank < c.Size(); rank++ {
			buf := l.extract(global, l.Block(Physical, rank))
			if rank == comm.Root {
				mine = buf
				continue
			}
			if err := c.Send(ctx, rank, tagScatter, buf); err != nil {
				return nil, err
			}
		}
		return mine, nil
	}

	buf, err := c.Recv(ctx, comm.Root, tagScatter)
	if err != nil {
		return nil, err
	}
	if len(buf) != own.Len() {
		return nil, fmt.Errorf(
			"rank %d received %d values, expected %d", c.Rank(), len(buf), own.Len(),
		)
	}
	return buf, nil
}

// extract copies block b out of a full grid array.
func (l *Layout) extract(global []float64, b Block) []float64 {
	g := l.G
	out := make([]float64, 0, b.Len())
	for i := b.I0; i < b.I0+b.NI; i++ {
		for k := b.K0; k < b.K0+b.NK; k++ {
			start := g.Idx(i, k, b.J0)
			out = append(out, global[start:start+b.NJ]...)
		}
	}
	return out
}

// Extract is Scatter without communication, for callers which already hold
// the full grid on every rank.
func (l *Layout) Extract(global []float64, rank int) []float64 {
	return l.extract(global, l.Block(Physical, rank))
}
