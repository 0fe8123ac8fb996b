package client

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/nathanyu/level2-book/internal/domain"
)

// Local actions handled by the interactive client without a round trip.
const (
	LocalLoco = "loco"
	LocalHelp = "help"
	LocalQuit = "quit"
	LocalBook = "book"
)

// HelpText lists the interactive commands.
const HelpText = `Commands:
  bid -p PRICE -q QTY      rest a buy order (alias: b, buy)
  ask -p PRICE -q QTY      rest a sell order (alias: a, sell)
  cancel ID                cancel an order
  amend ID -q QTY          change an order's quantity
  top -s SIDE              best price on a side
  depth -s SIDE            number of price levels on a side
  size -s SIDE -p PRICE    aggregate quantity at a price
  sub [DEPTH]              subscribe to deltas
  unsub                    stop receiving deltas
  snap [DEPTH]             one-off snapshot
  ping                     keep the session alive
  book                     print the mirrored book
  loco                     toggle random order flow
  help                     this text
  quit                     disconnect`

// Input is one parsed line: either a command for the server or a local action.
type Input struct {
	Command domain.Command
	Local   string
}

// ParseLine parses an interactive command line such as "bid -p 100 -q 5".
func ParseLine(line string) (Input, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Input{}, fmt.Errorf("empty command")
	}
	word := strings.ToLower(fields[0])

	switch word {
	case LocalLoco, LocalHelp, LocalBook:
		return Input{Local: word}, nil
	case LocalQuit, "exit":
		return Input{Local: LocalQuit}, nil
	}

	fs := pflag.NewFlagSet(word, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	price := fs.Int64P("price", "p", 0, "price in minor units")
	quantity := fs.Int64P("quantity", "q", 0, "quantity")
	sideStr := fs.StringP("side", "s", "", "bid or ask")
	if err := fs.Parse(fields[1:]); err != nil {
		return Input{}, fmt.Errorf("%s: %w", word, err)
	}
	args := fs.Args()

	need := func(flags ...string) error {
		for _, f := range flags {
			if !fs.Changed(f) {
				return fmt.Errorf("%s: --%s is required", word, f)
			}
		}
		return nil
	}
	side := func() (domain.Side, error) {
		if err := need("side"); err != nil {
			return "", err
		}
		return domain.ParseSide(*sideStr)
	}

	var cmd domain.Command
	switch word {
	case "bid", "b", "buy", "ask", "a", "sell":
		if err := need("price", "quantity"); err != nil {
			return Input{}, err
		}
		s, _ := domain.ParseSide(word)
		cmd = domain.Command{Kind: domain.CommandPlace, Side: s, Price: *price, Quantity: *quantity}

	case "cancel":
		id, err := orderArg(word, args)
		if err != nil {
			return Input{}, err
		}
		cmd = domain.Command{Kind: domain.CommandCancel, OrderID: id}

	case "amend":
		id, err := orderArg(word, args)
		if err != nil {
			return Input{}, err
		}
		if err := need("quantity"); err != nil {
			return Input{}, err
		}
		cmd = domain.Command{Kind: domain.CommandAmend, OrderID: id, Quantity: *quantity}

	case "top", "depth":
		s, err := side()
		if err != nil {
			return Input{}, err
		}
		kind := domain.CommandTop
		if word == "depth" {
			kind = domain.CommandDepth
		}
		cmd = domain.Command{Kind: kind, Side: s}

	case "size":
		s, err := side()
		if err != nil {
			return Input{}, err
		}
		if err := need("price"); err != nil {
			return Input{}, err
		}
		cmd = domain.Command{Kind: domain.CommandSize, Side: s, Price: *price}

	case "sub", "subscribe", "snap", "snapshot":
		depth, err := depthArg(word, args)
		if err != nil {
			return Input{}, err
		}
		kind := domain.CommandSubscribe
		if strings.HasPrefix(word, "snap") {
			kind = domain.CommandSnapshot
		}
		cmd = domain.Command{Kind: kind, Depth: depth}

	case "unsub", "unsubscribe":
		cmd = domain.Command{Kind: domain.CommandUnsubscribe}

	case "ping":
		cmd = domain.Command{Kind: domain.CommandPing}

	default:
		return Input{}, fmt.Errorf("unknown command %q, try help", word)
	}
	return Input{Command: cmd}, nil
}

func orderArg(word string, args []string) (domain.OrderID, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected one order id", word)
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%s: invalid order id %q", word, args[0])
	}
	return domain.OrderID(id), nil
}

func depthArg(word string, args []string) (int, error) {
	switch len(args) {
	case 0:
		return 0, nil
	case 1:
		depth, err := strconv.Atoi(args[0])
		if err != nil || depth < 0 {
			return 0, fmt.Errorf("%s: invalid depth %q", word, args[0])
		}
		return depth, nil
	default:
		return 0, fmt.Errorf("%s: expected at most one depth", word)
	}
}
