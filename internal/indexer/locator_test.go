package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
)

func TestLocator_Locate(t *testing.T) {
	// Block h is produced at genesis + 2h seconds.
	const head = 1000
	c := newFakeChain(head, TimestampBase)
	genesis := c.timeOf(0)

	tests := []struct {
		name   string
		target time.Time
		want   uint64
	}{
		{name: "exact block", target: genesis.Add(500 * 2 * time.Second), want: 500},
		{name: "between blocks", target: genesis.Add(500*2*time.Second + time.Second), want: 501},
		{name: "genesis", target: genesis, want: 0},
		{name: "before range", target: genesis.Add(-time.Hour), want: 0},
		{name: "head", target: TimestampBase, want: head},
		{name: "after range falls back to 0", target: TimestampBase.Add(time.Second), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLocator(c, fastRetrier(), nil)
			got, err := l.Locate(context.Background(), tt.target, head)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocator_Exhaustive(t *testing.T) {
	const head = 37
	c := newFakeChain(head, TimestampBase)
	l := NewLocator(c, fastRetrier(), nil)

	for h := uint64(0); h <= head; h++ {
		got, err := l.Locate(context.Background(), c.timeOf(h), head)
		require.NoError(t, err)
		assert.Equal(t, h, got, "target at block %d", h)

		if h > 0 {
			got, err = l.Locate(context.Background(), c.timeOf(h).Add(-time.Second), head)
			require.NoError(t, err)
			assert.Equal(t, h, got, "target just before block %d", h)
		}
	}
}

func TestLocator_LogarithmicSteps(t *testing.T) {
	const head = 1 << 20
	c := newFakeChain(head, TimestampBase)
	l := NewLocator(c, fastRetrier(), nil)

	_, err := l.Locate(context.Background(), c.timeOf(12345), head)
	require.NoError(t, err)
	assert.LessOrEqual(t, c.blockCalls, 22)
}

func TestLocator_Retries(t *testing.T) {
	const head = 1000
	c := newFakeChain(head, TimestampBase)
	// The first midpoint fails twice before succeeding.
	c.blockFailures[500] = 2
	l := NewLocator(c, fastRetrier(), nil)

	got, err := l.Locate(context.Background(), c.timeOf(700), head)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), got)

	c.blockFailures[500] = 10
	_, err = l.Locate(context.Background(), c.timeOf(700), head)
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)
}
