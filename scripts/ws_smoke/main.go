// ws_smoke is a throwaway check against a running gamenetd: dial the
// WebSocket bridge, register a name, send one chat line, and confirm it
// comes back with the display-name prefix.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"gamenet/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	name := flag.String("name", "smoke", "player name to register")
	text := flag.String("text", "hello from smoke test", "chat line to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// The server speaks first: wait for our id.
	id := -1
	for id < 0 {
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("read while waiting for id: %w", err)
		}
		if msg.Type == proto.TypeAssignClientID {
			if id, err = msg.Int(); err != nil {
				return fmt.Errorf("id payload: %w", err)
			}
		}
	}
	fmt.Printf("assigned id %d\n", id)

	if err := wsjson.Write(ctx, conn, proto.NewRegisterName(*name, id)); err != nil {
		return fmt.Errorf("register name: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.NewChat(*text, id)); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}

	for {
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msg.Type != proto.TypeChat {
			fmt.Printf("received %s\n", msg.Type)
			continue
		}
		got, err := msg.Text()
		if err != nil {
			return fmt.Errorf("chat payload: %w", err)
		}
		fmt.Printf("chat echo: %q\n", got)
		if !strings.HasPrefix(got, *name+":  ") {
			return fmt.Errorf("echo %q missing prefix %q", got, *name+":  ")
		}
		return nil
	}
}
