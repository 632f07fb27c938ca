package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"beltsim.ai/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name    = flag.String("name", "bot", "client name")
		originX = flag.Int("x", 0, "x of the first tile of the demo line")
		originY = flag.Int("y", 10, "y of the first tile of the demo line")
		length  = flag.Int("len", 8, "demo line length")
		every   = flag.Uint64("produce_every", 10, "produce one item every N frames")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Role:            protocol.RoleEditor,
		Capabilities: protocol.HelloCapabilities{
			MaxQueue: 8,
			Frames:   true,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{conn: conn, logger: logger, head: [2]int{*originX, *originY}, length: *length, every: *every}
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session_id=%s factory=%s tick_rate=%d speed=%.2f", w.SessionID, w.FactoryID, w.Params.TickRateHz, w.Params.Speed)
			b.placeLine()

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if !ack.Accepted {
				logger.Printf("ACK %s rejected code=%s msg=%s", ack.AckFor, ack.Code, ack.Message)
			}

		case protocol.TypeFrame:
			var fr protocol.FrameMsg
			if err := json.Unmarshal(msg, &fr); err != nil {
				continue
			}
			b.handleFrame(&fr)
		}
	}
}

type bot struct {
	conn   *websocket.Conn
	logger *log.Logger
	head   [2]int
	length int
	every  uint64
	seq    int
}

func (b *bot) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s_%d", prefix, b.seq)
}

// placeLine lays a straight line running right from head.
func (b *bot) placeLine() {
	for i := 0; i < b.length; i++ {
		_ = b.conn.WriteJSON(protocol.EditMsg{
			Type:            protocol.TypeEdit,
			ProtocolVersion: protocol.Version,
			ReqID:           b.nextID("E_place"),
			Op:              protocol.OpPlace,
			Pos:             [2]int{b.head[0] + i, b.head[1]},
			Dir:             "RIGHT",
		})
	}
}

func (b *bot) handleFrame(fr *protocol.FrameMsg) {
	if b.every > 0 && fr.Tick%b.every == 0 {
		_ = b.conn.WriteJSON(protocol.ProduceMsg{
			Type:            protocol.TypeProduce,
			ProtocolVersion: protocol.Version,
			ReqID:           b.nextID("P"),
			Pos:             b.head,
		})
	}
	if fr.Tick%100 == 0 {
		b.logger.Printf("tick=%d runs=%d on_runs=%d produced=%d delivered=%d digest=%.12s",
			fr.Tick, fr.Stats.Runs, fr.Stats.OnRuns, fr.Stats.Produced, fr.Stats.Delivered, fr.Digest)
	}
}
