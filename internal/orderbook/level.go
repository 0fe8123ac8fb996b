package orderbook

import "github.com/nathanyu/level2-book/internal/domain"

// priceLevel is a FIFO chain of arena slots sharing one price.
type priceLevel struct {
	price int64
	total int64
	count int
	head  int
	tail  int
}

func newPriceLevel(price int64) *priceLevel {
	return &priceLevel{price: price, head: noSlot, tail: noSlot}
}

// pushBack appends the order in slot idx to the tail of the level.
func (l *priceLevel) pushBack(a *arena, idx int) {
	s := a.at(idx)
	s.prev = l.tail
	s.next = noSlot
	if l.tail == noSlot {
		l.head = idx
	} else {
		a.at(l.tail).next = idx
	}
	l.tail = idx
	l.total += s.order.Quantity
	l.count++
}

// unlink removes slot idx from the chain. Neighbours keep their relative order.
func (l *priceLevel) unlink(a *arena, idx int) {
	s := a.at(idx)
	if s.prev == noSlot {
		l.head = s.next
	} else {
		a.at(s.prev).next = s.next
	}
	if s.next == noSlot {
		l.tail = s.prev
	} else {
		a.at(s.next).prev = s.prev
	}
	l.total -= s.order.Quantity
	l.count--
	s.prev, s.next = noSlot, noSlot
}

func (l *priceLevel) empty() bool {
	return l.count == 0
}

// orders returns copies of the level's orders in arrival order.
func (l *priceLevel) orders(a *arena) []domain.Order {
	out := make([]domain.Order, 0, l.count)
	for idx := l.head; idx != noSlot; idx = a.at(idx).next {
		out = append(out, a.at(idx).order)
	}
	return out
}
