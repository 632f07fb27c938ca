package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"beltsim.ai/internal/protocol"
	"beltsim.ai/internal/sim/factory"
)

type Server struct {
	factory  *factory.Factory
	log      *log.Logger
	maxQueue int

	upgrader websocket.Upgrader
}

// NewServer serves client sessions of f. maxQueue is the default outbound
// queue length for clients that do not request one.
func NewServer(f *factory.Factory, logger *log.Logger, maxQueue int) *Server {
	if maxQueue <= 0 {
		maxQueue = 8
	}
	s := &Server{
		factory:  f,
		log:      logger,
		maxQueue: maxQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		welcome, out := s.handshake(conn)
		if welcome.SessionID == "" {
			return
		}
		if s.log != nil {
			s.log.Printf("session joined: id=%s role=%s", welcome.SessionID, welcome.Role)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handleMessage(welcome, out, msg)
		}

		// Cleanup.
		s.factory.Leave() <- welcome.SessionID
		if s.log != nil {
			s.log.Printf("session left: id=%s", welcome.SessionID)
		}
	}
}

func (s *Server) handleMessage(w protocol.WelcomeMsg, out chan []byte, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		ackReject(out, "", protocol.ErrProtoBadRequest, "invalid json")
		return
	}
	reqID := peekReqID(msg)
	if base.ProtocolVersion != protocol.Version {
		ackReject(out, reqID, protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	if err := protocol.ValidateInbound(base.Type, msg); err != nil {
		ackReject(out, reqID, protocol.ErrProtoBadRequest, err.Error())
		return
	}

	var req factory.Request
	switch base.Type {
	case protocol.TypeEdit:
		var m protocol.EditMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			ackReject(out, reqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		req = factory.Request{
			ReqID:    m.ReqID,
			Op:       m.Op,
			Pos:      m.Pos,
			Dir:      strings.ToUpper(m.Dir),
			Tunnel:   m.Tunnel,
			Splitter: m.Splitter,
		}
	case protocol.TypeProduce:
		var m protocol.ProduceMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			ackReject(out, reqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		req = factory.Request{ReqID: m.ReqID, Op: factory.OpProduce, Pos: m.Pos}
	default:
		ackReject(out, reqID, protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
		return
	}
	if w.Role == protocol.RoleObserver {
		ackReject(out, req.ReqID, protocol.ErrNoPermission, "observers cannot modify the factory")
		return
	}
	req.SessionID = w.SessionID

	select {
	case s.factory.Inbox() <- req:
	default:
		ackReject(out, req.ReqID, protocol.ErrFactoryBusy, "inbox full")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.WelcomeMsg, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return protocol.WelcomeMsg{}, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return protocol.WelcomeMsg{}, nil
	}
	if base.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return protocol.WelcomeMsg{}, nil
	}
	if err := protocol.ValidateInbound(protocol.TypeHello, msg); err != nil {
		closeWith(conn, "invalid HELLO")
		return protocol.WelcomeMsg{}, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return protocol.WelcomeMsg{}, nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = s.maxQueue
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out := make(chan []byte, maxQ)

	// Observers always receive frames.
	frames := hello.Capabilities.Frames || hello.Role == protocol.RoleObserver

	respCh := make(chan protocol.WelcomeMsg, 1)
	s.factory.Join() <- factory.JoinRequest{
		SessionID: uuid.NewString(),
		Name:      hello.ClientName,
		Role:      hello.Role,
		Frames:    frames,
		Out:       out,
		Resp:      respCh,
	}
	welcome := <-respCh

	if err := writeJSON(conn, welcome); err != nil {
		s.factory.Leave() <- welcome.SessionID
		return protocol.WelcomeMsg{}, nil
	}
	return welcome, out
}

func peekReqID(msg []byte) string {
	var v struct {
		ReqID string `json:"req_id"`
	}
	_ = json.Unmarshal(msg, &v)
	return v.ReqID
}

func ackReject(out chan []byte, reqID, code, message string) {
	b, err := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          reqID,
		Accepted:        false,
		Code:            code,
		Message:         message,
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
