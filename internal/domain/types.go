package domain

import (
	"fmt"
	"strings"
)

// Side represents the order side (bid or ask).
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// ParseSide accepts "bid"/"b"/"buy" and "ask"/"a"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "b", "buy":
		return SideBid, nil
	case "ask", "a", "sell":
		return SideAsk, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Valid reports whether s is one of the two book sides.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// OrderID is a server-assigned, monotonically increasing order identifier.
type OrderID uint64

// Order is a resting limit order.
// Prices are integers in minor currency units to avoid floating-point drift.
type Order struct {
	ID         OrderID `json:"order_id"`
	Side       Side    `json:"side"`
	Price      int64   `json:"price"`
	Quantity   int64   `json:"quantity"`
	ArrivalSeq uint64  `json:"arrival_seq"`
}

// PriceLevel represents an aggregated price level in the L2 view.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// L2OrderBook is a point-in-time level-2 snapshot, best level first on each side.
// Seq is the global sequence number of the last mutation it reflects.
type L2OrderBook struct {
	Symbol string       `json:"symbol"`
	Seq    uint64       `json:"seq"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// Delta is the new aggregate quantity of one price level after a mutation.
// A zero Quantity means the level was removed.
type Delta struct {
	Seq      uint64 `json:"seq"`
	Side     Side   `json:"side"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// CommandKind enumerates what a session can ask the server to do.
type CommandKind string

const (
	CommandPlace       CommandKind = "place"
	CommandCancel      CommandKind = "cancel"
	CommandAmend       CommandKind = "amend"
	CommandSnapshot    CommandKind = "snapshot"
	CommandSubscribe   CommandKind = "subscribe"
	CommandUnsubscribe CommandKind = "unsubscribe"
	CommandTop         CommandKind = "top"
	CommandDepth       CommandKind = "depth"
	CommandSize        CommandKind = "size"
	CommandPing        CommandKind = "ping"
)

// Mutating reports whether the command changes book state.
func (k CommandKind) Mutating() bool {
	switch k {
	case CommandPlace, CommandCancel, CommandAmend:
		return true
	default:
		return false
	}
}

// Command is a decoded client request. Only the fields relevant to Kind are set.
type Command struct {
	Kind     CommandKind `json:"kind"`
	Side     Side        `json:"side,omitempty"`
	Price    int64       `json:"price,omitempty"`
	Quantity int64       `json:"quantity,omitempty"`
	OrderID  OrderID     `json:"order_id,omitempty"`
	Depth    int         `json:"depth,omitempty"`
}

// Result is what the server returns for a successfully handled command.
type Result struct {
	OrderID  OrderID      `json:"order_id,omitempty"`
	Seq      uint64       `json:"seq,omitempty"`
	Price    int64        `json:"price,omitempty"`
	Quantity int64        `json:"quantity,omitempty"`
	Levels   int          `json:"levels,omitempty"`
	Snapshot *L2OrderBook `json:"-"`
}
