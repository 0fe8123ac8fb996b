package orderbook

import (
	"fmt"
	"math"

	"github.com/nathanyu/level2-book/internal/domain"
)

// location is where an order lives: its side, price level and arena slot.
type location struct {
	side  domain.Side
	price int64
	slot  int
}

// OrderBook holds the two-sided resting book for a single instrument.
// It is not safe for concurrent use; the sequencer is its only owner.
type OrderBook struct {
	Symbol string
	Bids   *Book
	Asks   *Book

	orders arena
	index  map[domain.OrderID]location

	lastID     domain.OrderID
	arrivalSeq uint64
}

// NewOrderBook creates an empty order book for a symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Bids:   NewBook(domain.SideBid),
		Asks:   NewBook(domain.SideAsk),
		index:  make(map[domain.OrderID]location),
	}
}

func (ob *OrderBook) side(side domain.Side) (*Book, error) {
	switch side {
	case domain.SideBid:
		return ob.Bids, nil
	case domain.SideAsk:
		return ob.Asks, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSide, side)
	}
}

// Place appends a new order at the tail of its price level and returns its id
// with the level's new aggregate. The opposite side is never inspected.
func (ob *OrderBook) Place(side domain.Side, price, quantity int64) (domain.OrderID, domain.Delta, error) {
	book, err := ob.side(side)
	if err != nil {
		return 0, domain.Delta{}, err
	}
	if quantity <= 0 {
		return 0, domain.Delta{}, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}
	if price <= 0 {
		return 0, domain.Delta{}, fmt.Errorf("%w: %d", domain.ErrInvalidPrice, price)
	}
	if level, ok := book.level(price); ok && quantity > math.MaxInt64-level.total {
		return 0, domain.Delta{}, fmt.Errorf("%w: %d overflows level %d", domain.ErrInvalidQuantity, quantity, price)
	}
	if ob.lastID == math.MaxUint64 {
		return 0, domain.Delta{}, domain.ErrOrderIDExhausted
	}

	ob.lastID++
	ob.arrivalSeq++
	order := domain.Order{
		ID:         ob.lastID,
		Side:       side,
		Price:      price,
		Quantity:   quantity,
		ArrivalSeq: ob.arrivalSeq,
	}

	idx := ob.orders.alloc(order)
	level := book.levelFor(price)
	level.pushBack(&ob.orders, idx)
	ob.index[order.ID] = location{side: side, price: price, slot: idx}

	return order.ID, domain.Delta{Side: side, Price: price, Quantity: level.total}, nil
}

// Cancel removes an order. Cancelling an unknown or already cancelled id
// fails with ErrOrderNotFound.
func (ob *OrderBook) Cancel(id domain.OrderID) (domain.Delta, error) {
	loc, ok := ob.index[id]
	if !ok {
		return domain.Delta{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	book, _ := ob.side(loc.side)
	level, _ := book.level(loc.price)

	level.unlink(&ob.orders, loc.slot)
	ob.orders.release(loc.slot)
	delete(ob.index, id)

	remaining := level.total
	if level.empty() {
		book.dropLevel(loc.price)
		remaining = 0
	}
	return domain.Delta{Side: loc.side, Price: loc.price, Quantity: remaining}, nil
}

// Amend changes an order's resting quantity in place. Price and arrival
// priority are untouched. Non-positive quantities are rejected; removal goes
// through Cancel.
func (ob *OrderBook) Amend(id domain.OrderID, quantity int64) (domain.Delta, error) {
	loc, ok := ob.index[id]
	if !ok {
		return domain.Delta{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	if quantity <= 0 {
		return domain.Delta{}, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}
	book, _ := ob.side(loc.side)
	level, _ := book.level(loc.price)

	s := ob.orders.at(loc.slot)
	rest := level.total - s.order.Quantity
	if quantity > math.MaxInt64-rest {
		return domain.Delta{}, fmt.Errorf("%w: %d overflows level %d", domain.ErrInvalidQuantity, quantity, loc.price)
	}
	level.total = rest + quantity
	s.order.Quantity = quantity

	return domain.Delta{Side: loc.side, Price: loc.price, Quantity: level.total}, nil
}

// Snapshot returns up to depth best levels per side; depth <= 0 returns the
// full book. It does not mutate anything.
func (ob *OrderBook) Snapshot(depth int) *domain.L2OrderBook {
	return &domain.L2OrderBook{
		Symbol: ob.Symbol,
		Bids:   ob.Bids.aggregate(depth),
		Asks:   ob.Asks.aggregate(depth),
	}
}

// Order returns a copy of a resting order.
func (ob *OrderBook) Order(id domain.OrderID) (domain.Order, bool) {
	loc, ok := ob.index[id]
	if !ok {
		return domain.Order{}, false
	}
	return ob.orders.at(loc.slot).order, true
}

// LevelOrders returns the orders resting at a price in arrival order.
func (ob *OrderBook) LevelOrders(side domain.Side, price int64) []domain.Order {
	book, err := ob.side(side)
	if err != nil {
		return nil
	}
	level, ok := book.level(price)
	if !ok {
		return nil
	}
	return level.orders(&ob.orders)
}

// SizeForPriceLevel returns the aggregate quantity resting at a price.
func (ob *OrderBook) SizeForPriceLevel(side domain.Side, price int64) (int64, error) {
	book, err := ob.side(side)
	if err != nil {
		return 0, err
	}
	level, ok := book.level(price)
	if !ok {
		return 0, fmt.Errorf("%w: %s %d", domain.ErrPriceLevelNotFound, side, price)
	}
	return level.total, nil
}

// Depth returns the number of price levels on a side.
func (ob *OrderBook) Depth(side domain.Side) (int, error) {
	book, err := ob.side(side)
	if err != nil {
		return 0, err
	}
	return book.Depth(), nil
}

// TopOfBook returns the best price on a side.
func (ob *OrderBook) TopOfBook(side domain.Side) (int64, error) {
	book, err := ob.side(side)
	if err != nil {
		return 0, err
	}
	price, ok := book.BestPrice()
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrEmptyBook, side)
	}
	return price, nil
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int {
	return len(ob.index)
}
