package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"beltsim.ai/internal/protocol"
	"beltsim.ai/internal/sim/factory"
	"beltsim.ai/internal/sim/layout"
)

func startServer(t *testing.T) string {
	t.Helper()
	f, err := factory.New(factory.Config{ID: "ws_test", TickRateHz: 50, Speed: 2, MinSpacing: 0.25, AutoWire: true}, layout.Layout{
		Tiles: []layout.Tile{{Pos: [2]int{0, 0}, Dir: "right", Repeat: 4}},
		Sinks: [][2]int{{3, 0}},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.Run(ctx) }()

	srv := httptest.NewServer(NewServer(f, nil, 8).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, hello string) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var w protocol.WelcomeMsg
	readType(t, conn, protocol.TypeWelcome, &w)
	return conn, w
}

// readType reads until a message of type typ arrives and decodes it into v.
func readType(t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type != typ {
			continue
		}
		if err := json.Unmarshal(b, v); err != nil {
			t.Fatalf("unmarshal %s: %v", typ, err)
		}
		return
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) protocol.AckMsg {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack protocol.AckMsg
	readType(t, conn, protocol.TypeAck, &ack)
	return ack
}

func TestServer_HandshakeAndEdits(t *testing.T) {
	url := startServer(t)
	conn, w := dial(t, url, `{"type":"HELLO","protocol_version":"1.0","client_name":"t1"}`)
	if w.SessionID == "" || w.FactoryID != "ws_test" || w.Role != protocol.RoleEditor {
		t.Fatalf("welcome=%+v", w)
	}
	if w.Params.TickRateHz != 50 || !w.Params.AutoWire {
		t.Fatalf("params=%+v", w.Params)
	}

	ack := send(t, conn, `{"type":"EDIT","protocol_version":"1.0","req_id":"e1","op":"PLACE","pos":[4,0],"dir":"right"}`)
	if ack.AckFor != "e1" || !ack.Accepted {
		t.Fatalf("ack=%+v", ack)
	}
	ack = send(t, conn, `{"type":"EDIT","protocol_version":"1.0","req_id":"e2","op":"REMOVE","pos":[9,9]}`)
	if ack.AckFor != "e2" || ack.Accepted || ack.Code != protocol.ErrInvalidTarget {
		t.Fatalf("ack=%+v", ack)
	}
	ack = send(t, conn, `{"type":"PRODUCE","protocol_version":"1.0","req_id":"p1","pos":[0,0]}`)
	if ack.AckFor != "p1" || !ack.Accepted || ack.ItemID == 0 {
		t.Fatalf("ack=%+v", ack)
	}
}

func TestServer_RejectsInvalidMessages(t *testing.T) {
	url := startServer(t)
	conn, _ := dial(t, url, `{"type":"HELLO","protocol_version":"1.0"}`)

	ack := send(t, conn, `{"type":"EDIT","protocol_version":"1.0","req_id":"e1","op":"PLACE","pos":[1,2]}`)
	if ack.AckFor != "e1" || ack.Accepted || ack.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("missing dir ack=%+v", ack)
	}
	ack = send(t, conn, `{"type":"EDIT","protocol_version":"0.9","req_id":"e2","op":"REMOVE","pos":[1,2]}`)
	if ack.AckFor != "e2" || ack.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("bad version ack=%+v", ack)
	}
	ack = send(t, conn, `{"type":"HELLO","protocol_version":"1.0"}`)
	if ack.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("second hello ack=%+v", ack)
	}
	ack = send(t, conn, `nope`)
	if ack.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("garbage ack=%+v", ack)
	}
}

func TestServer_ObserverGetsFramesNotEdits(t *testing.T) {
	url := startServer(t)
	conn, w := dial(t, url, `{"type":"HELLO","protocol_version":"1.0","role":"OBSERVER"}`)
	if w.Role != protocol.RoleObserver {
		t.Fatalf("role=%s", w.Role)
	}
	var fr protocol.FrameMsg
	readType(t, conn, protocol.TypeFrame, &fr)
	if fr.FactoryID != "ws_test" || len(fr.Runs) != 1 {
		t.Fatalf("frame=%+v", fr)
	}

	ack := send(t, conn, `{"type":"EDIT","protocol_version":"1.0","req_id":"o1","op":"REMOVE","pos":[0,0]}`)
	if ack.AckFor != "o1" || ack.Accepted || ack.Code != protocol.ErrNoPermission {
		t.Fatalf("ack=%+v", ack)
	}
}

func TestServer_RequiresHelloFirst(t *testing.T) {
	url := startServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"EDIT","protocol_version":"1.0"}`))
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}
