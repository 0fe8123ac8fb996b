package client

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
)

// Loco generates random resting orders around a mid price: asks one to two
// ticks above, bids one to two ticks below.
type Loco struct {
	Mid         int64
	MaxQuantity int64
	rng         *rand.Rand
}

// NewLoco creates a generator around mid.
func NewLoco(mid int64, seed uint64) *Loco {
	return &Loco{
		Mid:         mid,
		MaxQuantity: 149,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Next returns a random PLACE command.
func (l *Loco) Next() domain.Command {
	side := domain.SideBid
	price := l.Mid - 1 - l.rng.Int64N(2)
	if l.rng.IntN(2) == 0 {
		side = domain.SideAsk
		price = l.Mid + 1 + l.rng.Int64N(2)
	}
	return domain.Command{
		Kind:     domain.CommandPlace,
		Side:     side,
		Price:    price,
		Quantity: 1 + l.rng.Int64N(l.MaxQuantity),
	}
}

// Run places a random order every interval until ctx is cancelled or the
// connection ends. Rejected orders are logged and do not stop the flow.
func (l *Loco) Run(ctx context.Context, c *Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
			if _, err := c.Do(ctx, l.Next()); err != nil && ctx.Err() == nil {
				c.logger.Debug("loco order failed", zap.Error(err))
			}
		}
	}
}
