package client

import (
	"cmp"
	"slices"
	"sync"

	"github.com/nathanyu/level2-book/internal/domain"
)

// MirrorBook is the client's local copy of the level-2 book, seeded by a
// subscription snapshot and advanced by deltas. It tracks the last applied
// sequence number so gaps in the delta stream are detected.
type MirrorBook struct {
	mu     sync.RWMutex
	symbol string
	seq    uint64
	bids   map[int64]int64
	asks   map[int64]int64
	gaps   int
	synced bool
}

// NewMirrorBook creates an empty, unsynced mirror.
func NewMirrorBook() *MirrorBook {
	return &MirrorBook{
		bids: make(map[int64]int64),
		asks: make(map[int64]int64),
	}
}

// Reset replaces the mirror with a snapshot.
func (b *MirrorBook) Reset(snap *domain.L2OrderBook) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.symbol = snap.Symbol
	b.seq = snap.Seq
	b.bids = make(map[int64]int64, len(snap.Bids))
	b.asks = make(map[int64]int64, len(snap.Asks))
	for _, l := range snap.Bids {
		b.bids[l.Price] = l.Quantity
	}
	for _, l := range snap.Asks {
		b.asks[l.Price] = l.Quantity
	}
	b.synced = true
}

// Apply folds a delta into the mirror. Deltas at or below the current
// sequence number are already reflected and are ignored. It reports false
// when the delta skips ahead, meaning some deltas were missed.
func (b *MirrorBook) Apply(d domain.Delta) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.synced || d.Seq <= b.seq {
		return true
	}
	contiguous := d.Seq == b.seq+1
	if !contiguous {
		b.gaps++
	}
	b.seq = d.Seq

	levels := b.bids
	if d.Side == domain.SideAsk {
		levels = b.asks
	}
	if d.Quantity == 0 {
		delete(levels, d.Price)
	} else {
		levels[d.Price] = d.Quantity
	}
	return contiguous
}

// Seq returns the sequence number the mirror reflects.
func (b *MirrorBook) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Gaps returns how many sequence gaps were seen since the last Reset.
func (b *MirrorBook) Gaps() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gaps
}

// Synced reports whether a snapshot has been applied.
func (b *MirrorBook) Synced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synced
}

// Snapshot returns up to depth best levels per side; depth <= 0 returns all.
func (b *MirrorBook) Snapshot(depth int) *domain.L2OrderBook {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return &domain.L2OrderBook{
		Symbol: b.symbol,
		Seq:    b.seq,
		Bids:   sortedLevels(b.bids, depth, true),
		Asks:   sortedLevels(b.asks, depth, false),
	}
}

func sortedLevels(levels map[int64]int64, depth int, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for price, qty := range levels {
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	slices.SortFunc(out, func(a, b domain.PriceLevel) int {
		if descending {
			return cmp.Compare(b.Price, a.Price)
		}
		return cmp.Compare(a.Price, b.Price)
	})
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}
