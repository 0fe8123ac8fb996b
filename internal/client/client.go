// Package client is a WebSocket client for the level-2 book server. It
// correlates replies with commands by client-local id and keeps a mirrored
// copy of the book from the subscription stream.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/protocol"
)

// ErrClosed is returned for commands issued after the connection ended.
var ErrClosed = errors.New("connection closed")

// ServerError is an ERROR reply. It unwraps to the matching domain sentinel,
// so errors.Is(err, domain.ErrOrderNotFound) works on the client side.
type ServerError struct {
	ID      uint64
	Kind    domain.ErrorKind
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServerError) Unwrap() error {
	return domain.ErrorForKind(e.Kind)
}

type pendingCall struct {
	kind  domain.CommandKind
	reply chan protocol.ServerMessage
}

// Client is one connection to the server. It is safe for concurrent use.
type Client struct {
	conn    *websocket.Conn
	session string
	book    *MirrorBook

	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]pendingCall

	events chan protocol.ServerMessage
	done   chan struct{}
	err    error

	logger *zap.Logger
}

// Dial connects to a server stream URL such as ws://127.0.0.1:8080/v1/stream
// and waits for the CONNECTED greeting.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	msg, err := protocol.DecodeServerMessage(frame)
	if err != nil || msg.Type != protocol.TypeConnected {
		conn.Close()
		return nil, fmt.Errorf("%w: expected %s greeting", domain.ErrProtocol, protocol.TypeConnected)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		session: msg.Session,
		book:    NewMirrorBook(),
		pending: make(map[uint64]pendingCall),
		events:  make(chan protocol.ServerMessage, 1024),
		done:    make(chan struct{}),
		logger:  logger.Named("client").With(zap.String("session", msg.Session)),
	}
	go c.readLoop()
	return c, nil
}

// Session returns the server-assigned session id.
func (c *Client) Session() string { return c.session }

// Book returns the mirrored book fed by SUBSCRIBE.
func (c *Client) Book() *MirrorBook { return c.book }

// Events delivers frames that are not replies to a pending command: deltas
// and unsolicited errors such as SessionTimeout. Frames are dropped if the
// channel is not drained.
func (c *Client) Events() <-chan protocol.ServerMessage { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil after a local Close.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Do sends cmd and waits for its ACK, ERROR or snapshot reply.
func (c *Client) Do(ctx context.Context, cmd domain.Command) (protocol.ServerMessage, error) {
	id := c.nextID.Add(1)
	frame, err := protocol.EncodeCommand(id, cmd)
	if err != nil {
		return protocol.ServerMessage{}, err
	}

	call := pendingCall{kind: cmd.Kind, reply: make(chan protocol.ServerMessage, 1)}
	c.mu.Lock()
	c.pending[id] = call
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return protocol.ServerMessage{}, err
	}

	select {
	case msg := <-call.reply:
		if msg.Type == protocol.TypeError {
			return msg, &ServerError{ID: msg.ID, Kind: msg.Kind, Message: msg.Message}
		}
		return msg, nil
	case <-ctx.Done():
		return protocol.ServerMessage{}, ctx.Err()
	case <-c.done:
		return protocol.ServerMessage{}, ErrClosed
	}
}

// Place rests a new order and returns its id.
func (c *Client) Place(ctx context.Context, side domain.Side, price, quantity int64) (domain.OrderID, error) {
	msg, err := c.Do(ctx, domain.Command{Kind: domain.CommandPlace, Side: side, Price: price, Quantity: quantity})
	if err != nil {
		return 0, err
	}
	return msg.Result.OrderID, nil
}

// Cancel removes a resting order.
func (c *Client) Cancel(ctx context.Context, id domain.OrderID) error {
	_, err := c.Do(ctx, domain.Command{Kind: domain.CommandCancel, OrderID: id})
	return err
}

// Amend changes a resting order's quantity.
func (c *Client) Amend(ctx context.Context, id domain.OrderID, quantity int64) error {
	_, err := c.Do(ctx, domain.Command{Kind: domain.CommandAmend, OrderID: id, Quantity: quantity})
	return err
}

// Subscribe starts the delta stream and seeds the mirrored book.
func (c *Client) Subscribe(ctx context.Context, depth int) (*domain.L2OrderBook, error) {
	msg, err := c.Do(ctx, domain.Command{Kind: domain.CommandSubscribe, Depth: depth})
	if err != nil {
		return nil, err
	}
	return msg.Snapshot(), nil
}

// Snapshot fetches a one-off level-2 snapshot.
func (c *Client) Snapshot(ctx context.Context, depth int) (*domain.L2OrderBook, error) {
	msg, err := c.Do(ctx, domain.Command{Kind: domain.CommandSnapshot, Depth: depth})
	if err != nil {
		return nil, err
	}
	return msg.Snapshot(), nil
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	c.conn.Close()
	<-c.done

	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			return
		}

		msg, err := protocol.DecodeServerMessage(frame)
		if err != nil {
			c.logger.Warn("undecodable frame", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeLevel2Delta:
		if !c.book.Apply(msg.Delta()) {
			c.logger.Warn("sequence gap", zap.Uint64("seq", msg.Seq))
		}
		c.emit(msg)
		return
	case protocol.TypeAck, protocol.TypeError, protocol.TypeLevel2Snapshot:
		if msg.ID == 0 {
			break
		}
		c.mu.Lock()
		call, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			break
		}
		if call.kind == domain.CommandSubscribe && msg.Type == protocol.TypeLevel2Snapshot {
			// Reset before the reply is handed out so no later delta is missed.
			c.book.Reset(msg.Snapshot())
		}
		call.reply <- msg
		return
	}
	c.emit(msg)
}

func (c *Client) emit(msg protocol.ServerMessage) {
	select {
	case c.events <- msg:
	default:
	}
}
