package orderbook

import "github.com/nathanyu/level2-book/internal/domain"

// noSlot marks the end of a level's order chain.
const noSlot = -1

// slot holds one resting order plus its links inside the price level.
// Links are slot indexes, never pointers, so the backing slice can grow freely.
type slot struct {
	order      domain.Order
	prev, next int
	used       bool
}

// arena is a stable slot store with a free list. Released slots are reused
// by later allocations.
type arena struct {
	slots []slot
	free  []int
}

func (a *arena) alloc(order domain.Order) int {
	s := slot{order: order, prev: noSlot, next: noSlot, used: true}
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx] = s
		return idx
	}
	a.slots = append(a.slots, s)
	return len(a.slots) - 1
}

func (a *arena) release(idx int) {
	a.slots[idx] = slot{prev: noSlot, next: noSlot}
	a.free = append(a.free, idx)
}

func (a *arena) at(idx int) *slot {
	return &a.slots[idx]
}

// live returns the number of occupied slots.
func (a *arena) live() int {
	return len(a.slots) - len(a.free)
}
