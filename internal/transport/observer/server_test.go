package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"chunkstream.ai/internal/observerproto"
	"chunkstream.ai/internal/space"
	"chunkstream.ai/internal/stream"
	"chunkstream.ai/internal/stream/runtime"
)

type nopGen struct{}

func (nopGen) Generate(ctx context.Context, buf stream.TileBuffer) error { return nil }

type nopMesher struct{}

func (nopMesher) Build(ctx context.Context, tiles stream.TileBuffer) (stream.MeshDescriptor, error) {
	return nil, nil
}

func newServer(t *testing.T) (*Server, *runtime.Loop) {
	t.Helper()
	layout, err := space.New(space.Geometry{Family: space.FamilySquare, Radius: 2, TileSize: 1})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	ctrl, err := stream.NewController(layout, stream.Config{
		StreamRadius:       1,
		MinDespawnDistance: 2,
		DespawnInterval:    time.Second,
	}, stream.Deps{Generator: nopGen{}, Mesher: nopMesher{}})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	loop := runtime.New(ctrl, 20, zaptest.NewLogger(t))
	return NewServer(loop, zaptest.NewLogger(t)), loop
}

func dial(t *testing.T, srv *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, s.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readTick(t *testing.T, conn *websocket.Conn) observerproto.TickMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.TickMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read tick: %v", err)
	}
	return msg
}

func TestWSHandler_StreamsFilteredTicks(t *testing.T) {
	s, loop := newServer(t)
	loop.AddSink(s)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv, observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		MaxTransitions:  3,
	})
	waitClients(t, s, 1)

	loop.StepOnce([]runtime.JoinRequest{{ID: "a", Position: mgl64.Vec3{0.4, 0, 0.4}}}, nil, nil, 10*time.Millisecond)
	msg := readTick(t, conn)
	if msg.Tick != 1 || msg.Loaded != 9 {
		t.Fatalf("unexpected tick: tick=%d loaded=%d", msg.Tick, msg.Loaded)
	}
	if msg.Sites != nil {
		t.Fatalf("sites not requested but sent: %+v", msg.Sites)
	}
	// 9 spawns plus 9 voxel dispatches, capped at 3.
	if len(msg.Transitions) != 3 || msg.Dropped != 15 {
		t.Fatalf("transitions=%d dropped=%d", len(msg.Transitions), msg.Dropped)
	}

	// Resubscribe with sites on.
	if err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		Sites:           true,
	}); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		loop.StepOnce(nil, nil, nil, 10*time.Millisecond)
		msg = readTick(t, conn)
		if len(msg.Sites) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription update never applied")
		}
	}
	if msg.Sites[0].ID != "a" || len(msg.Sites[0].Chunk) != 2 {
		t.Fatalf("unexpected site state: %+v", msg.Sites[0])
	}
}

func TestWSHandler_RejectsMissingSubscribe(t *testing.T) {
	s, _ := newServer(t)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv, observerproto.SubscribeMsg{Type: "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if s.Clients() != 0 {
		t.Fatalf("rejected viewer was registered")
	}
}

func TestWSHandler_ClientRemovedOnClose(t *testing.T) {
	s, _ := newServer(t)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv, observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version})
	waitClients(t, s, 1)
	conn.Close()
	waitClients(t, s, 0)
}

func TestBootstrapHandler(t *testing.T) {
	s, loop := newServer(t)
	loop.StepOnce(nil, nil, nil, time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tick != 1 || resp.TickRateHz != 20 || resp.StreamRadius != 1 {
		t.Fatalf("unexpected bootstrap: %+v", resp)
	}
	if resp.Layout.Family != "square" || resp.Layout.Radius != 2 || resp.Layout.TilesPerChunk != 25 {
		t.Fatalf("unexpected layout: %+v", resp.Layout)
	}
}

func TestHandlers_RejectNonLoopback(t *testing.T) {
	s, _ := newServer(t)
	for name, h := range map[string]http.HandlerFunc{
		"bootstrap": s.BootstrapHandler(),
		"ws":        s.WSHandler(),
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		h(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", name, rec.Code)
		}
	}
}

func TestFilterTick_DoesNotMutateInput(t *testing.T) {
	msg := observerproto.TickMsg{
		Sites:       []observerproto.SiteState{{ID: "a"}},
		Transitions: make([]observerproto.TransitionInfo, 5),
		Dropped:     1,
	}
	got := filterTick(msg, observerproto.SubscribeMsg{MaxTransitions: 2})
	if got.Sites != nil || len(got.Transitions) != 2 || got.Dropped != 4 {
		t.Fatalf("unexpected filter result: %+v", got)
	}
	if len(msg.Sites) != 1 || len(msg.Transitions) != 5 || msg.Dropped != 1 {
		t.Fatalf("input mutated: %+v", msg)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q) = %v, want %v", in, got, want)
		}
	}
}
