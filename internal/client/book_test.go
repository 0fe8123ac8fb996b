package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nathanyu/level2-book/internal/domain"
)

func TestMirrorBook_ResetAndApply(t *testing.T) {
	b := NewMirrorBook()

	// Deltas before the snapshot are ignored.
	assert.True(t, b.Apply(domain.Delta{Seq: 1, Side: domain.SideBid, Price: 100, Quantity: 1}))
	assert.False(t, b.Synced())

	b.Reset(&domain.L2OrderBook{
		Symbol: "TEST",
		Seq:    4,
		Bids:   []domain.PriceLevel{{Price: 100, Quantity: 10}},
		Asks:   []domain.PriceLevel{{Price: 101, Quantity: 3}},
	})

	// Already reflected in the snapshot.
	assert.True(t, b.Apply(domain.Delta{Seq: 4, Side: domain.SideBid, Price: 100, Quantity: 99}))

	assert.True(t, b.Apply(domain.Delta{Seq: 5, Side: domain.SideBid, Price: 99, Quantity: 2}))
	assert.True(t, b.Apply(domain.Delta{Seq: 6, Side: domain.SideAsk, Price: 101, Quantity: 0}))

	snap := b.Snapshot(0)
	assert.Equal(t, uint64(6), snap.Seq)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Quantity: 10}, {Price: 99, Quantity: 2}}, snap.Bids)
	assert.Empty(t, snap.Asks)
	assert.Zero(t, b.Gaps())
}

func TestMirrorBook_DetectsGaps(t *testing.T) {
	b := NewMirrorBook()
	b.Reset(&domain.L2OrderBook{Seq: 1})

	assert.False(t, b.Apply(domain.Delta{Seq: 3, Side: domain.SideAsk, Price: 105, Quantity: 1}))
	assert.Equal(t, 1, b.Gaps())
	assert.Equal(t, uint64(3), b.Seq())
}

func TestMirrorBook_SnapshotOrderAndDepth(t *testing.T) {
	b := NewMirrorBook()
	b.Reset(&domain.L2OrderBook{
		Bids: []domain.PriceLevel{{Price: 98, Quantity: 1}, {Price: 100, Quantity: 1}, {Price: 99, Quantity: 1}},
		Asks: []domain.PriceLevel{{Price: 103, Quantity: 1}, {Price: 101, Quantity: 1}, {Price: 102, Quantity: 1}},
	})

	snap := b.Snapshot(2)
	assert.Equal(t, []int64{100, 99}, prices(snap.Bids))
	assert.Equal(t, []int64{101, 102}, prices(snap.Asks))
}

func prices(levels []domain.PriceLevel) []int64 {
	out := make([]int64, len(levels))
	for i, l := range levels {
		out[i] = l.Price
	}
	return out
}
