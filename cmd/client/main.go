package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/client"
	"github.com/nathanyu/level2-book/internal/config"
	"github.com/nathanyu/level2-book/internal/protocol"
	"github.com/nathanyu/level2-book/internal/telemetry"
)

const (
	locoMid      = 100
	locoInterval = 200 * time.Millisecond
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 2
	}
	defer logger.Sync() //nolint:errcheck

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	c, err := client.Dial(dialCtx, cfg.Server, logger)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		return 1
	}
	fmt.Printf("connected to %s as session %s (type help for commands)\n", cfg.Server, c.Session())

	go printEvents(c)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var stopLoco context.CancelFunc
	defer func() {
		if stopLoco != nil {
			stopLoco()
		}
	}()

	for {
		select {
		case <-c.Done():
			if err := c.Err(); err != nil {
				fmt.Fprintln(os.Stderr, "connection lost:", err)
				return 1
			}
			fmt.Println("server closed the connection")
			return 0

		case line, ok := <-lines:
			if !ok {
				_ = c.Close()
				return 0
			}
			if line == "" {
				continue
			}

			in, err := client.ParseLine(line)
			if err != nil {
				fmt.Println(err)
				continue
			}

			switch in.Local {
			case client.LocalQuit:
				if err := c.Close(); err != nil {
					logger.Debug("close", zap.Error(err))
				}
				return 0
			case client.LocalHelp:
				fmt.Println(client.HelpText)
				continue
			case client.LocalBook:
				if !c.Book().Synced() {
					fmt.Println("not subscribed, run sub first")
					continue
				}
				fmt.Println(client.FormatBook(c.Book().Snapshot(0)))
				continue
			case client.LocalLoco:
				if stopLoco != nil {
					stopLoco()
					stopLoco = nil
					fmt.Println("loco off")
					continue
				}
				var ctx context.Context
				ctx, stopLoco = context.WithCancel(context.Background())
				go client.NewLoco(locoMid, uint64(time.Now().UnixNano())).Run(ctx, c, locoInterval)
				fmt.Println("loco on")
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			msg, err := c.Do(ctx, in.Command)
			cancel()
			var serverErr *client.ServerError
			switch {
			case errors.As(err, &serverErr):
				fmt.Println(client.Format(msg))
			case err != nil:
				fmt.Println("error:", err)
			default:
				fmt.Println(client.Format(msg))
			}
		}
	}
}

func printEvents(c *client.Client) {
	for {
		select {
		case <-c.Done():
			return
		case msg := <-c.Events():
			if msg.Type == protocol.TypeError {
				fmt.Fprintln(os.Stderr, client.Format(msg))
				continue
			}
			fmt.Println(client.Format(msg))
		}
	}
}
