// Minimal fake backend peer for manual testing: connects to the relay and
// echoes each text request as a markdown fragment followed by end.
// Usage: fake-brain [-addr ws://localhost:8081/ws]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fpt/chatbridge/pkg/wire"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8081/ws", "Relay websocket URL")
	flag.Parse()

	if err := run(*addr); err != nil {
		log.Fatal(err)
	}
}

func run(addr string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "connected to %s\n", addr)

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		env, err := wire.ParseEnvelope(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping invalid frame: %v\n", err)
			continue
		}

		switch env.Message.Type {
		case wire.TypeText:
			fmt.Printf("request %s from %s: %s\n", env.Message.ID, env.User.ID, env.Message.Content)
			if err := send(conn, wire.NewReply(env, wire.TypeMarkdown, "Echo: **"+env.Message.Content+"**")); err != nil {
				return err
			}
			if err := send(conn, wire.NewReply(env, wire.TypeEnd, "")); err != nil {
				return err
			}
		case wire.TypeClear:
			// Fire-and-forget; nothing to send back.
			fmt.Printf("clear for chat %s\n", env.Chat.ID)
		default:
			fmt.Printf("ignoring %s request\n", env.Message.Type)
		}
	}
}

func send(conn *websocket.Conn, env wire.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
