package orderbook

import (
	"cmp"
	"slices"

	"github.com/nathanyu/level2-book/internal/domain"
)

// Book represents one side (bid or ask) of an order book.
// prices is kept sorted best-first: descending for bids, ascending for asks.
type Book struct {
	Side   domain.Side
	levels map[int64]*priceLevel
	prices []int64
}

// NewBook creates a new order book side.
func NewBook(side domain.Side) *Book {
	return &Book{
		Side:   side,
		levels: make(map[int64]*priceLevel),
	}
}

// compare orders prices best-first for this side.
func (b *Book) compare(a, c int64) int {
	if b.Side == domain.SideBid {
		return cmp.Compare(c, a)
	}
	return cmp.Compare(a, c)
}

// BestPrice returns the best price on this side and whether the side has orders.
func (b *Book) BestPrice() (int64, bool) {
	if len(b.prices) == 0 {
		return 0, false
	}
	return b.prices[0], true
}

// HasOrders returns whether this side has any resting orders.
func (b *Book) HasOrders() bool {
	return len(b.prices) > 0
}

// Depth is the number of distinct price levels on this side.
func (b *Book) Depth() int {
	return len(b.prices)
}

func (b *Book) level(price int64) (*priceLevel, bool) {
	l, ok := b.levels[price]
	return l, ok
}

// levelFor returns the level at price, creating and indexing it if absent.
func (b *Book) levelFor(price int64) *priceLevel {
	if l, ok := b.levels[price]; ok {
		return l
	}
	l := newPriceLevel(price)
	b.levels[price] = l
	i, _ := slices.BinarySearchFunc(b.prices, price, b.compare)
	b.prices = slices.Insert(b.prices, i, price)
	return l
}

// dropLevel forgets an empty level.
func (b *Book) dropLevel(price int64) {
	delete(b.levels, price)
	if i, found := slices.BinarySearchFunc(b.prices, price, b.compare); found {
		b.prices = slices.Delete(b.prices, i, i+1)
	}
}

// aggregate returns up to depth levels best-first; depth <= 0 means all.
func (b *Book) aggregate(depth int) []domain.PriceLevel {
	prices := b.prices
	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}

	levels := make([]domain.PriceLevel, len(prices))
	for i, price := range prices {
		levels[i] = domain.PriceLevel{
			Price:    price,
			Quantity: b.levels[price].total,
		}
	}
	return levels
}
