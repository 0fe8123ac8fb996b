package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/protocol"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want domain.Command
	}{
		{"bid -p 100 -q 5", domain.Command{Kind: domain.CommandPlace, Side: domain.SideBid, Price: 100, Quantity: 5}},
		{"Ask -p 10 -q 2", domain.Command{Kind: domain.CommandPlace, Side: domain.SideAsk, Price: 10, Quantity: 2}},
		{"sell --price 12 --quantity 1", domain.Command{Kind: domain.CommandPlace, Side: domain.SideAsk, Price: 12, Quantity: 1}},
		{"cancel 7", domain.Command{Kind: domain.CommandCancel, OrderID: 7}},
		{"amend 7 -q 3", domain.Command{Kind: domain.CommandAmend, OrderID: 7, Quantity: 3}},
		{"top -s ask", domain.Command{Kind: domain.CommandTop, Side: domain.SideAsk}},
		{"Depth -s Bid", domain.Command{Kind: domain.CommandDepth, Side: domain.SideBid}},
		{"size -s a -p 12", domain.Command{Kind: domain.CommandSize, Side: domain.SideAsk, Price: 12}},
		{"sub", domain.Command{Kind: domain.CommandSubscribe}},
		{"sub 5", domain.Command{Kind: domain.CommandSubscribe, Depth: 5}},
		{"snap 3", domain.Command{Kind: domain.CommandSnapshot, Depth: 3}},
		{"unsub", domain.Command{Kind: domain.CommandUnsubscribe}},
		{"ping", domain.Command{Kind: domain.CommandPing}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			in, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Empty(t, in.Local)
			assert.Equal(t, tt.want, in.Command)
		})
	}
}

func TestParseLine_Local(t *testing.T) {
	for line, want := range map[string]string{
		"loco": LocalLoco,
		"help": LocalHelp,
		"book": LocalBook,
		"quit": LocalQuit,
		"exit": LocalQuit,
	} {
		in, err := ParseLine(line)
		require.NoError(t, err)
		assert.Equal(t, want, in.Local)
	}
}

func TestParseLine_Errors(t *testing.T) {
	for _, line := range []string{
		"",
		"bid -p 100",
		"bid -q 5",
		"bid -p abc -q 5",
		"cancel",
		"cancel x",
		"cancel 0",
		"amend 3",
		"top",
		"top -s up",
		"size -s bid",
		"sub -1",
		"sub 1 2",
		"trade now",
	} {
		_, err := ParseLine(line)
		assert.Error(t, err, line)
	}
}

func TestLoco_StaysAroundMid(t *testing.T) {
	loco := NewLoco(100, 42)
	for range 500 {
		cmd := loco.Next()
		require.Equal(t, domain.CommandPlace, cmd.Kind)
		assert.GreaterOrEqual(t, cmd.Quantity, int64(1))
		assert.LessOrEqual(t, cmd.Quantity, int64(149))
		if cmd.Side == domain.SideAsk {
			assert.Contains(t, []int64{101, 102}, cmd.Price)
		} else {
			assert.Contains(t, []int64{98, 99}, cmd.Price)
		}
	}
}

func TestFormat(t *testing.T) {
	ack := protocol.ServerMessage{Type: protocol.TypeAck, ID: 3, Result: domain.Result{OrderID: 5, Seq: 9, Price: 100, Quantity: 2}}
	assert.Equal(t, "ACK #3 order=5 price=100 qty=2 seq=9", Format(ack))

	errMsg := protocol.ServerMessage{Type: protocol.TypeError, ID: 4, Kind: domain.KindOrderNotFound, Message: "order not found: 5"}
	assert.Equal(t, "ERROR #4 OrderNotFound: order not found: 5", Format(errMsg))

	delta := protocol.ServerMessage{Type: protocol.TypeLevel2Delta, Seq: 10, Side: domain.SideBid, Price: 100, Quantity: 0}
	assert.Equal(t, "DELTA seq=10 bid 100 -> 0", Format(delta))

	book := FormatBook(&domain.L2OrderBook{
		Symbol: "TEST",
		Seq:    2,
		Bids:   []domain.PriceLevel{{Price: 99, Quantity: 4}},
		Asks:   []domain.PriceLevel{{Price: 101, Quantity: 3}, {Price: 102, Quantity: 1}},
	})
	lines := strings.Split(book, "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[1], "102")
	assert.Contains(t, lines[2], "101")
	assert.Contains(t, lines[4], "99")
}
