// Package ws lets remote clients drive sites over websocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chunkstream.ai/internal/observerproto"
	"chunkstream.ai/internal/protocol"
	"chunkstream.ai/internal/stream/runtime"
)

// Server joins one site per connection and forwards MOVE messages to the
// loop. It is a runtime.Sink: after each tick it sends CHUNK to every site
// whose loaded chunk changed.
type Server struct {
	loop *runtime.Loop
	log  *zap.Logger

	// MovesPerSecond and MoveBurst bound MOVE messages per connection.
	MovesPerSecond float64
	MoveBurst      int
	// JoinTimeout bounds the wait for the loop to accept a join.
	JoinTimeout time.Duration

	upgrader websocket.Upgrader

	mu    sync.Mutex
	sites map[string]*siteConn
}

type siteConn struct {
	out       chan []byte
	lastChunk []int
}

func NewServer(loop *runtime.Loop, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		loop:           loop,
		log:            logger.With(zap.String("component", "sites")),
		MovesPerSecond: float64(loop.TickRateHz()) * 2,
		MoveBurst:      8,
		JoinTimeout:    2 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sites: map[string]*siteConn{},
	}
}

// Sites is the number of connected sites.
func (s *Server) Sites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sites)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		siteID, out := s.handshake(r.Context(), conn)
		if siteID == "" {
			return
		}
		defer s.release(siteID)

		ctx, cancel := context.WithCancel(r.Context())
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

		limiter := rate.NewLimiter(rate.Limit(s.MovesPerSecond), s.MoveBurst)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeMove {
				continue
			}
			var mv protocol.MoveMsg
			if err := json.Unmarshal(msg, &mv); err != nil || mv.ProtocolVersion != protocol.Version {
				enqueue(out, protocol.NewError(protocol.ErrProtoBadRequest, "bad MOVE"))
				continue
			}
			if !inBounds(mv.Pos) {
				enqueue(out, protocol.NewError(protocol.ErrBadPosition, "position out of range"))
				continue
			}
			if !limiter.Allow() {
				enqueue(out, protocol.NewError(protocol.ErrRateLimit, "too many MOVE messages"))
				continue
			}
			select {
			case s.loop.Move() <- runtime.MoveRequest{ID: siteID, Position: mgl(mv.Pos)}:
			case <-ctx.Done():
			}
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (siteID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", nil
	}
	if !inBounds(hello.Pos) {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrBadPosition, "position out of range"))
		closeWith(conn, "bad position")
		return "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	siteID = strings.TrimSpace(hello.SiteID)
	if siteID == "" {
		siteID = runtime.NewSiteID()
	}
	s.mu.Lock()
	if _, taken := s.sites[siteID]; taken {
		s.mu.Unlock()
		_ = writeJSON(conn, protocol.NewError(protocol.ErrSiteTaken, "site "+siteID+" is connected"))
		closeWith(conn, "site taken")
		return "", nil
	}
	s.sites[siteID] = &siteConn{out: out}
	s.mu.Unlock()

	timer := time.NewTimer(s.JoinTimeout)
	defer timer.Stop()
	select {
	case s.loop.Join() <- runtime.JoinRequest{ID: siteID, Position: mgl(hello.Pos)}:
	case <-timer.C:
		s.forget(siteID)
		s.log.Warn("join not accepted by loop", zap.String("site", siteID))
		_ = writeJSON(conn, protocol.NewError(protocol.ErrInternal, "stream loop is not accepting sites"))
		closeWith(conn, "join timeout")
		return "", nil
	case <-ctx.Done():
		s.forget(siteID)
		return "", nil
	}

	layout := s.loop.Controller().Layout()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SiteID:          siteID,
		Tick:            s.loop.CurrentTick(),
		StreamRadius:    s.loop.Controller().Config().StreamRadius,
		MovesPerSecond:  s.MovesPerSecond,
		Layout: protocol.LayoutParams{
			Family:     string(layout.Family()),
			Radius:     layout.Radius(),
			TileSize:   layout.TileSize(),
			TileHeight: layout.TileHeight(),
			Height:     layout.Height(),
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.release(siteID)
		return "", nil
	}
	s.log.Info("site connected", zap.String("site", siteID))
	return siteID, out
}

// forget drops a site that never reached the loop.
func (s *Server) forget(siteID string) {
	s.mu.Lock()
	delete(s.sites, siteID)
	s.mu.Unlock()
}

func (s *Server) release(siteID string) {
	s.mu.Lock()
	_, ok := s.sites[siteID]
	delete(s.sites, siteID)
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case s.loop.Leave() <- siteID:
	case <-time.After(time.Second):
		s.log.Warn("leave request dropped", zap.String("site", siteID))
	}
	s.log.Info("site disconnected", zap.String("site", siteID))
}

// WriteTick sends CHUNK to sites whose loaded chunk differs from the last one
// they were told about.
func (s *Server) WriteTick(msg observerproto.TickMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, st := range msg.Sites {
		c := s.sites[st.ID]
		if c == nil || st.Chunk == nil || sameCoords(c.lastChunk, st.Chunk) {
			continue
		}
		c.lastChunk = st.Chunk
		b, err := json.Marshal(protocol.ChunkMsg{
			Type:            protocol.TypeChunk,
			ProtocolVersion: protocol.Version,
			Tick:            msg.Tick,
			SiteID:          st.ID,
			Chunk:           st.Chunk,
			Loaded:          msg.Loaded,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sendLatest(c.out, b)
	}
	return errors.Join(errs...)
}

func enqueue(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
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

func sameCoords(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MaxCoord bounds accepted positions so tile indices stay well inside int32.
const MaxCoord = 1 << 28

func inBounds(p [3]float64) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.Abs(v) > MaxCoord {
			return false
		}
	}
	return true
}

func mgl(p [3]float64) mgl64.Vec3 { return mgl64.Vec3(p) }
