// Package protocol defines the framed JSON messages exchanged between book
// clients and the server. One WebSocket text frame carries one message.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nathanyu/level2-book/internal/domain"
)

// Client → server message types.
const (
	TypePlace       = "PLACE"
	TypeCancel      = "CANCEL"
	TypeAmend       = "AMEND"
	TypeSubscribe   = "SUBSCRIBE"
	TypeUnsubscribe = "UNSUBSCRIBE"
	TypeSnapshot    = "SNAPSHOT"
	TypeTop         = "TOP"
	TypeDepth       = "DEPTH"
	TypeSize        = "SIZE"
	TypePing        = "PING"
)

// Server → client message types.
const (
	TypeConnected      = "CONNECTED"
	TypeAck            = "ACK"
	TypeError          = "ERROR"
	TypeLevel2Delta    = "LEVEL2_DELTA"
	TypeLevel2Snapshot = "LEVEL2_SNAPSHOT"
)

var commandTypes = map[string]domain.CommandKind{
	TypePlace:       domain.CommandPlace,
	TypeCancel:      domain.CommandCancel,
	TypeAmend:       domain.CommandAmend,
	TypeSubscribe:   domain.CommandSubscribe,
	TypeUnsubscribe: domain.CommandUnsubscribe,
	TypeSnapshot:    domain.CommandSnapshot,
	TypeTop:         domain.CommandTop,
	TypeDepth:       domain.CommandDepth,
	TypeSize:        domain.CommandSize,
	TypePing:        domain.CommandPing,
}

// ClientMessage is the wire form of a command. ID is the client-local
// sequence number echoed in the matching ACK or ERROR.
// Pointer fields distinguish "missing" from zero.
type ClientMessage struct {
	Type     string  `json:"type"`
	ID       uint64  `json:"id"`
	Side     string  `json:"side,omitempty"`
	Price    *int64  `json:"price,omitempty"`
	Quantity *int64  `json:"quantity,omitempty"`
	OrderID  *uint64 `json:"order_id,omitempty"`
	Depth    int     `json:"depth,omitempty"`
}

// DecodeCommand parses one client frame. The returned id is valid whenever
// the frame was well-formed JSON, so protocol errors can still be correlated.
func DecodeCommand(data []byte) (uint64, domain.Command, error) {
	var msg ClientMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return 0, domain.Command{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	if dec.More() {
		return msg.ID, domain.Command{}, fmt.Errorf("%w: trailing data after message", domain.ErrProtocol)
	}

	kind, ok := commandTypes[msg.Type]
	if !ok {
		return msg.ID, domain.Command{}, fmt.Errorf("%w: unknown message type %q", domain.ErrProtocol, msg.Type)
	}

	cmd := domain.Command{Kind: kind, Depth: msg.Depth}

	needSide := kind == domain.CommandPlace || kind == domain.CommandTop ||
		kind == domain.CommandDepth || kind == domain.CommandSize
	needPrice := kind == domain.CommandPlace || kind == domain.CommandSize
	needQuantity := kind == domain.CommandPlace || kind == domain.CommandAmend
	needOrderID := kind == domain.CommandCancel || kind == domain.CommandAmend

	if needSide {
		side, err := domain.ParseSide(msg.Side)
		if err != nil {
			return msg.ID, domain.Command{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
		}
		cmd.Side = side
	}
	if needPrice {
		if msg.Price == nil {
			return msg.ID, domain.Command{}, fmt.Errorf("%w: %s requires price", domain.ErrProtocol, msg.Type)
		}
		cmd.Price = *msg.Price
	}
	if needQuantity {
		if msg.Quantity == nil {
			return msg.ID, domain.Command{}, fmt.Errorf("%w: %s requires quantity", domain.ErrProtocol, msg.Type)
		}
		cmd.Quantity = *msg.Quantity
	}
	if needOrderID {
		if msg.OrderID == nil {
			return msg.ID, domain.Command{}, fmt.Errorf("%w: %s requires order_id", domain.ErrProtocol, msg.Type)
		}
		cmd.OrderID = domain.OrderID(*msg.OrderID)
	}
	if msg.Depth < 0 {
		return msg.ID, domain.Command{}, fmt.Errorf("%w: negative depth", domain.ErrProtocol)
	}
	return msg.ID, cmd, nil
}

// EncodeCommand renders a command as a client frame.
func EncodeCommand(id uint64, cmd domain.Command) ([]byte, error) {
	msg := ClientMessage{ID: id, Depth: cmd.Depth}
	for typ, kind := range commandTypes {
		if kind == cmd.Kind {
			msg.Type = typ
			break
		}
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: unknown command kind %q", domain.ErrProtocol, cmd.Kind)
	}

	switch cmd.Kind {
	case domain.CommandPlace:
		msg.Side = string(cmd.Side)
		msg.Price = &cmd.Price
		msg.Quantity = &cmd.Quantity
	case domain.CommandCancel:
		oid := uint64(cmd.OrderID)
		msg.OrderID = &oid
	case domain.CommandAmend:
		oid := uint64(cmd.OrderID)
		msg.OrderID = &oid
		msg.Quantity = &cmd.Quantity
	case domain.CommandTop, domain.CommandDepth:
		msg.Side = string(cmd.Side)
	case domain.CommandSize:
		msg.Side = string(cmd.Side)
		msg.Price = &cmd.Price
	}
	return json.Marshal(msg)
}

// Connected greets a new session with its id.
type Connected struct {
	Type    string `json:"type"`
	Session string `json:"session"`
}

// Ack reports a successfully handled command.
type Ack struct {
	Type   string        `json:"type"`
	ID     uint64        `json:"id"`
	Result domain.Result `json:"result"`
}

// Error reports a rejected command or a session-level failure.
type Error struct {
	Type    string           `json:"type"`
	ID      uint64           `json:"id"`
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message,omitempty"`
}

// Delta carries one level-2 change. Quantity 0 means the level is gone.
type Delta struct {
	Type     string      `json:"type"`
	Seq      uint64      `json:"seq"`
	Side     domain.Side `json:"side"`
	Price    int64       `json:"price"`
	Quantity int64       `json:"quantity"`
}

// Snapshot carries a full or depth-limited L2 view. ID is set when the
// snapshot answers a SUBSCRIBE or SNAPSHOT command.
type Snapshot struct {
	Type   string              `json:"type"`
	ID     uint64              `json:"id,omitempty"`
	Seq    uint64              `json:"seq"`
	Symbol string              `json:"symbol"`
	Bids   []domain.PriceLevel `json:"bids"`
	Asks   []domain.PriceLevel `json:"asks"`
}

func EncodeConnected(session string) ([]byte, error) {
	return json.Marshal(Connected{Type: TypeConnected, Session: session})
}

func EncodeAck(id uint64, result domain.Result) ([]byte, error) {
	return json.Marshal(Ack{Type: TypeAck, ID: id, Result: result})
}

// EncodeError classifies err into its wire kind.
func EncodeError(id uint64, err error) ([]byte, error) {
	return json.Marshal(Error{
		Type:    TypeError,
		ID:      id,
		Kind:    domain.KindOf(err),
		Message: err.Error(),
	})
}

func EncodeDelta(d domain.Delta) ([]byte, error) {
	return json.Marshal(Delta{
		Type:     TypeLevel2Delta,
		Seq:      d.Seq,
		Side:     d.Side,
		Price:    d.Price,
		Quantity: d.Quantity,
	})
}

func EncodeSnapshot(id uint64, snap *domain.L2OrderBook) ([]byte, error) {
	bids, asks := snap.Bids, snap.Asks
	if bids == nil {
		bids = []domain.PriceLevel{}
	}
	if asks == nil {
		asks = []domain.PriceLevel{}
	}
	return json.Marshal(Snapshot{
		Type:   TypeLevel2Snapshot,
		ID:     id,
		Seq:    snap.Seq,
		Symbol: snap.Symbol,
		Bids:   bids,
		Asks:   asks,
	})
}

// ServerMessage is the union of every server frame, used by clients to decode.
type ServerMessage struct {
	Type     string              `json:"type"`
	ID       uint64              `json:"id"`
	Session  string              `json:"session"`
	Result   domain.Result       `json:"result"`
	Kind     domain.ErrorKind    `json:"kind"`
	Message  string              `json:"message"`
	Seq      uint64              `json:"seq"`
	Symbol   string              `json:"symbol"`
	Side     domain.Side         `json:"side"`
	Price    int64               `json:"price"`
	Quantity int64               `json:"quantity"`
	Bids     []domain.PriceLevel `json:"bids"`
	Asks     []domain.PriceLevel `json:"asks"`
}

// DecodeServerMessage parses one server frame.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	switch msg.Type {
	case TypeConnected, TypeAck, TypeError, TypeLevel2Delta, TypeLevel2Snapshot:
		return msg, nil
	default:
		return ServerMessage{}, fmt.Errorf("%w: unknown server message type %q", domain.ErrProtocol, msg.Type)
	}
}

// Delta converts a LEVEL2_DELTA frame back into a domain delta.
func (m ServerMessage) Delta() domain.Delta {
	return domain.Delta{Seq: m.Seq, Side: m.Side, Price: m.Price, Quantity: m.Quantity}
}

// Snapshot converts a LEVEL2_SNAPSHOT frame back into a domain snapshot.
func (m ServerMessage) Snapshot() *domain.L2OrderBook {
	return &domain.L2OrderBook{Symbol: m.Symbol, Seq: m.Seq, Bids: m.Bids, Asks: m.Asks}
}
