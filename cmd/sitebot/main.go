// Command sitebot connects to the site endpoint and wanders around.
package main

import (
	"encoding/json"
	"flag"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chunkstream.ai/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://127.0.0.1:8090/v1/sites", "site ws url")
		siteID = flag.String("site", "", "site id (empty: server assigns)")
		speed  = flag.Float64("speed", 8, "world units per second")
		hz     = flag.Int("hz", 5, "MOVE messages per second")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger = logger.Named("sitebot")

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		SiteID:          *siteID,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	go readLoop(conn, logger)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	heading := rng.Float64() * 2 * math.Pi
	var pos [3]float64
	dt := time.Second / time.Duration(*hz)
	t := time.NewTicker(dt)
	defer t.Stop()
	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		case <-t.C:
			heading += (rng.Float64() - 0.5) * 0.4
			step := *speed * dt.Seconds()
			pos[0] += math.Cos(heading) * step
			pos[2] += math.Sin(heading) * step
			mv := protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Pos: pos}
			if err := conn.WriteJSON(mv); err != nil {
				logger.Warn("send MOVE", zap.Error(err))
				return
			}
		}
	}
}

func readLoop(conn *websocket.Conn, logger *zap.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Info("connection closed", zap.Error(err))
			os.Exit(0)
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
			logger.Info("WELCOME",
				zap.String("site", w.SiteID),
				zap.String("family", w.Layout.Family),
				zap.Int("radius", w.Layout.Radius),
				zap.Int("stream_radius", w.StreamRadius),
			)
		case protocol.TypeChunk:
			var c protocol.ChunkMsg
			if err := json.Unmarshal(msg, &c); err != nil {
				continue
			}
			logger.Info("entered chunk", zap.Ints("chunk", c.Chunk), zap.Uint64("tick", c.Tick), zap.Int("loaded", c.Loaded))
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Warn("server error", zap.String("code", e.Code), zap.String("message", e.Message))
		}
	}
}
