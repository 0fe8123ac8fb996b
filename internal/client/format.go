package client

import (
	"fmt"
	"strings"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/protocol"
)

// Format renders a server frame as one human-readable line.
func Format(msg protocol.ServerMessage) string {
	switch msg.Type {
	case protocol.TypeConnected:
		return fmt.Sprintf("connected session=%s", msg.Session)
	case protocol.TypeAck:
		r := msg.Result
		var b strings.Builder
		fmt.Fprintf(&b, "ACK #%d", msg.ID)
		if r.OrderID != 0 {
			fmt.Fprintf(&b, " order=%d", r.OrderID)
		}
		if r.Price != 0 {
			fmt.Fprintf(&b, " price=%d", r.Price)
		}
		if r.Quantity != 0 {
			fmt.Fprintf(&b, " qty=%d", r.Quantity)
		}
		if r.Levels != 0 {
			fmt.Fprintf(&b, " levels=%d", r.Levels)
		}
		fmt.Fprintf(&b, " seq=%d", r.Seq)
		return b.String()
	case protocol.TypeError:
		return fmt.Sprintf("ERROR #%d %s: %s", msg.ID, msg.Kind, msg.Message)
	case protocol.TypeLevel2Delta:
		return fmt.Sprintf("DELTA seq=%d %s %d -> %d", msg.Seq, msg.Side, msg.Price, msg.Quantity)
	case protocol.TypeLevel2Snapshot:
		return fmt.Sprintf("SNAPSHOT #%d\n%s", msg.ID, FormatBook(msg.Snapshot()))
	default:
		return msg.Type
	}
}

// FormatBook renders a book as a two-column ladder, asks above bids.
func FormatBook(book *domain.L2OrderBook) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s seq=%d\n", book.Symbol, book.Seq)
	for i := len(book.Asks) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "            %10d  %-8d\n", book.Asks[i].Price, book.Asks[i].Quantity)
	}
	b.WriteString("  ----------------------------\n")
	for _, l := range book.Bids {
		fmt.Fprintf(&b, "  %8d  %10d\n", l.Quantity, l.Price)
	}
	return strings.TrimRight(b.String(), "\n")
}
