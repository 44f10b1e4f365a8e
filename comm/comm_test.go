package comm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunInvalidSize(t *testing.T) {
	err := Run(context.Background(), 0, func(context.Context, Comm) error {
		return nil
	})
	assert.Error(t, err)
}

func TestSendRecvTags(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c Comm) error {
		if c.Rank() == 0 {
			if err := c.Send(ctx, 1, 7, []float64{7}); err != nil {
				return err
			}
			return c.Send(ctx, 1, 3, []float64{3})
		}

		// Ask for the later tag first. The earlier message must be held.
		x3, err := c.Recv(ctx, 0, 3)
		if err != nil {
			return err
		}
		x7, err := c.Recv(ctx, 0, 7)
		if err != nil {
			return err
		}
		assert.Equal(t, []float64{3}, x3)
		assert.Equal(t, []float64{7}, x7)
		return nil
	})
	require.NoError(t, err)
}

func TestSendCopies(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c Comm) error {
		if c.Rank() == 0 {
			buf := []float64{1, 2, 3}
			if err := c.Send(ctx, 1, 0, buf); err != nil {
				return err
			}
			buf[0] = -1
			return Barrier(ctx, c)
		}

		if err := Barrier(ctx, c); err != nil {
			return err
		}
		x, err := c.Recv(ctx, 0, 0)
		if err != nil {
			return err
		}
		assert.Equal(t, []float64{1, 2, 3}, x)
		return nil
	})
	require.NoError(t, err)
}

func TestAllreduce(t *testing.T) {
	for _, size := range []int{1, 2, 3, 4, 8} {
		err := Run(context.Background(), size, func(ctx context.Context, c Comm) error {
			r := float64(c.Rank())
			sum := []float64{r, 1, -r}
			mx := []float64{r, -r, 5}

			if err := AllreduceSum(ctx, c, sum); err != nil {
				return err
			}
			if err := AllreduceMax(ctx, c, mx); err != nil {
				return err
			}

			n := float64(size)
			assert.Equal(t, []float64{n * (n - 1) / 2, n, -n * (n - 1) / 2}, sum)
			assert.Equal(t, []float64{n - 1, 0, 5}, mx)
			return nil
		})
		require.NoError(t, err, "size = %d", size)
	}
}

func TestAllreduceDeterministic(t *testing.T) {
	vals := []float64{1e16, 1, -1e16, 1, 3.3, 1e-7}
	results := make([][]float64, len(vals))

	for trial := 0; trial < 5; trial++ {
		err := Run(context.Background(), len(vals), func(ctx context.Context, c Comm) error {
			xs := []float64{vals[c.Rank()]}
			if err := AllreduceSum(ctx, c, xs); err != nil {
				return err
			}
			results[c.Rank()] = xs
			return nil
		})
		require.NoError(t, err)

		for i := range results {
			assert.Equal(t, results[0], results[i])
		}
	}
}

func TestGather(t *testing.T) {
	err := Run(context.Background(), 4, func(ctx context.Context, c Comm) error {
		out, err := Gather(ctx, c, 2, []float64{float64(c.Rank()), 10})
		if err != nil {
			return err
		}
		if c.Rank() != 2 {
			assert.Nil(t, out)
			return nil
		}
		require.Len(t, out, 4)
		for r := range out {
			assert.Equal(t, []float64{float64(r), 10}, out[r])
		}
		return nil
	})
	require.NoError(t, err)
}

func TestExchange(t *testing.T) {
	size := 4
	err := Run(context.Background(), size, func(ctx context.Context, c Comm) error {
		peers := make([]int, size)
		send := make([][]float64, size)
		for p := range peers {
			peers[p] = p
			send[p] = []float64{float64(10*c.Rank() + p)}
		}

		recv, err := Exchange(ctx, c, 5, peers, send)
		if err != nil {
			return err
		}
		for p := range recv {
			assert.Equal(t, []float64{float64(10*p + c.Rank())}, recv[p])
		}
		return nil
	})
	require.NoError(t, err)
}

func TestErrorCancelsRanks(t *testing.T) {
	bad := errors.New("rank 1 failed")
	err := Run(context.Background(), 3, func(ctx context.Context, c Comm) error {
		if c.Rank() == 1 {
			return bad
		}
		// Blocks forever unless the failure on rank 1 cancels ctx.
		_, err := c.Recv(ctx, 1, 0)
		return err
	})
	assert.ErrorIs(t, err, bad)
}

func TestPanicBecomesError(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c Comm) error {
		if c.Rank() == 0 {
			panic("boom")
		}
		return Barrier(ctx, c)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 0 panicked: boom")
}

func TestDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Run(ctx, 2, func(ctx context.Context, c Comm) error {
		_, err := c.Recv(ctx, 1-c.Rank(), 0)
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
