package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chunkstream.ai/internal/observerproto"
	"chunkstream.ai/internal/stream/runtime"
)

// Server streams tick messages to loopback viewers over websocket. It is a
// runtime.Sink.
type Server struct {
	loop *runtime.Loop
	log  *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	out chan []byte
	sub observerproto.SubscribeMsg
}

func NewServer(loop *runtime.Loop, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		loop: loop,
		log:  logger.With(zap.String("component", "observer")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see isLoopbackRemote
		},
		clients: map[string]*client{},
	}
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// WriteTick fans msg out to every subscriber. Slow subscribers lose older
// ticks rather than blocking the loop.
func (s *Server) WriteTick(msg observerproto.TickMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		b, err := json.Marshal(filterTick(msg, c.sub))
		if err != nil {
			return fmt.Errorf("observer: encode tick for %s: %w", id, err)
		}
		sendLatest(c.out, b)
	}
	return nil
}

func filterTick(msg observerproto.TickMsg, sub observerproto.SubscribeMsg) observerproto.TickMsg {
	if !sub.Sites {
		msg.Sites = nil
	}
	if n := len(msg.Transitions); n > sub.MaxTransitions {
		msg.Transitions = msg.Transitions[:sub.MaxTransitions]
		msg.Dropped += n - sub.MaxTransitions
	}
	return msg
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctrl := s.loop.Controller()
		layout := ctrl.Layout()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Tick:            s.loop.CurrentTick(),
			TickRateHz:      s.loop.TickRateHz(),
			StreamRadius:    ctrl.Config().StreamRadius,
			Layout: observerproto.LayoutParams{
				Family:        string(layout.Family()),
				Radius:        layout.Radius(),
				TileSize:      layout.TileSize(),
				TileHeight:    layout.TileHeight(),
				Height:        layout.Height(),
				TilesPerChunk: layout.TilesPerChunk(),
			},
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		sub, ok, err := readSubscribe(conn)
		if err != nil {
			return
		}
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id := fmt.Sprintf("V%d", s.nextID.Add(1))
		out := make(chan []byte, 8)
		s.mu.Lock()
		s.clients[id] = &client{out: out, sub: sub}
		s.mu.Unlock()
		s.log.Info("viewer subscribed", zap.String("viewer", id), zap.String("remote", r.RemoteAddr))
		defer func() {
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			s.log.Info("viewer left", zap.String("viewer", id))
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			sub, ok, err := readSubscribe(conn)
			if err != nil {
				break
			}
			if !ok {
				continue
			}
			s.mu.Lock()
			if c := s.clients[id]; c != nil {
				c.sub = sub
			}
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// readSubscribe reads one message. ok is false for anything that is not a
// valid SUBSCRIBE; err is set only when the connection failed.
func readSubscribe(conn *websocket.Conn) (sub observerproto.SubscribeMsg, ok bool, err error) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, false, err
	}
	if json.Unmarshal(msg, &sub) != nil {
		return sub, false, nil
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false, nil
	}
	normalizeSubscribe(&sub)
	return sub, true, nil
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.MaxTransitions <= 0 {
		sub.MaxTransitions = 512
	}
	if sub.MaxTransitions > 8192 {
		sub.MaxTransitions = 8192
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
