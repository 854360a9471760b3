// Command streamsim drives the chunk streaming engine with wandering sites.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"chunkstream.ai/internal/config"
	"chunkstream.ai/internal/logging"
	"chunkstream.ai/internal/stream"
	"chunkstream.ai/internal/stream/runtime"
	"chunkstream.ai/internal/stream/workpool"
	"chunkstream.ai/internal/terrain/gen"
	"chunkstream.ai/internal/terrain/mesh"
	"chunkstream.ai/internal/tracelog"
	"chunkstream.ai/internal/transport/observer"
	"chunkstream.ai/internal/transport/ws"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to config (.yaml or .toml); empty uses defaults")
		observe = flag.String("observe", "", "observer listen address, overrides config (empty keeps config)")
		trace   = flag.String("trace", "", "trace directory, overrides config")
		ticks   = flag.Int("ticks", 0, "run this many ticks as fast as possible and exit (0 = realtime until signal)")
		sites   = flag.Int("sites", 2, "number of wandering sites")
		speed   = flag.Float64("speed", 6, "site speed in world units per second")
		seed    = flag.Int64("seed", 1, "site wander seed")
	)
	flag.Parse()

	if err := run(*cfgPath, *observe, *trace, *ticks, *sites, *speed, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "streamsim: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, observeAddr, traceDir string, ticks, numSites int, speed float64, seed int64) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if s := strings.TrimSpace(observeAddr); s != "" {
		cfg.Observer.Listen = s
	}
	if s := strings.TrimSpace(traceDir); s != "" {
		cfg.Trace.Dir = s
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout, err := cfg.NewLayout()
	if err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	generator, err := gen.New(layout, cfg.TerrainParams())
	if err != nil {
		return fmt.Errorf("terrain: %w", err)
	}
	pool := workpool.New(ctx, cfg.Streaming.Workers, cfg.Streaming.QueueSize, log)
	defer pool.Close()

	ctrl, err := stream.NewController(layout, cfg.StreamConfig(), stream.Deps{
		Generator:   generator,
		Mesher:      mesh.NewSurfaceMesher(layout, func(b uint16) bool { return b == gen.Air || b == gen.Water }),
		Placeholder: mesh.NewOutlineProvider(layout),
		Pool:        pool,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	loop := runtime.New(ctrl, cfg.Streaming.TickRateHz, log)

	stats := &statsSink{}
	loop.AddSink(stats)

	var traceLog *tracelog.TickLogger
	if cfg.Trace.Dir != "" {
		traceLog = tracelog.NewTickLogger(cfg.Trace.Dir)
		defer traceLog.Close()
		loop.AddSink(traceLog)
	}

	if cfg.Observer.Listen != "" {
		obs := observer.NewServer(loop, log)
		remote := ws.NewServer(loop, log)
		loop.AddSink(obs)
		loop.AddSink(remote)
		srv := &http.Server{Addr: cfg.Observer.Listen, Handler: newMux(stats, obs, remote, pool)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("observer server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("observer listening", zap.String("addr", cfg.Observer.Listen))
	}

	log.Info("streaming",
		zap.String("family", string(layout.Family())),
		zap.Int("radius", layout.Radius()),
		zap.Int("tiles_per_chunk", layout.TilesPerChunk()),
		zap.Int("stream_radius", cfg.Streaming.StreamRadius),
		zap.Int("sites", numSites),
	)

	w := newWanderers(numSites, speed, seed)
	dt := time.Second / time.Duration(loop.TickRateHz())
	start := time.Now()

	if ticks > 0 {
		joins := w.joins()
		for i := 0; i < ticks && ctx.Err() == nil; i++ {
			loop.StepOnce(joins, w.step(dt), nil, dt)
			joins = nil
		}
	} else {
		for _, j := range w.joins() {
			loop.Join() <- j
		}
		go func() {
			t := time.NewTicker(dt)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					for _, mv := range w.step(dt) {
						select {
						case loop.Move() <- mv:
						default:
						}
					}
				}
			}
		}()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	stats.print(os.Stdout, loop.CurrentTick(), time.Since(start), traceSize(cfg.Trace.Dir))
	return nil
}

func newMux(stats *statsSink, obs *observer.Server, remote *ws.Server, pool *workpool.Pool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		snap := stats.latest()

		fmt.Fprintf(rw, "# HELP chunkstream_tick Last published tick.\n")
		fmt.Fprintf(rw, "# TYPE chunkstream_tick gauge\n")
		fmt.Fprintf(rw, "chunkstream_tick %d\n", snap.tick)

		fmt.Fprintf(rw, "# HELP chunkstream_loaded_chunks Loaded chunk count.\n")
		fmt.Fprintf(rw, "# TYPE chunkstream_loaded_chunks gauge\n")
		fmt.Fprintf(rw, "chunkstream_loaded_chunks %d\n", snap.loaded)

		fmt.Fprintf(rw, "# HELP chunkstream_chunks_by_stage Live chunks per generation stage.\n")
		fmt.Fprintf(rw, "# TYPE chunkstream_chunks_by_stage gauge\n")
		for _, st := range snap.stages {
			fmt.Fprintf(rw, "chunkstream_chunks_by_stage{stage=%q} %d\n", st.name, st.count)
		}

		fmt.Fprintf(rw, "# HELP chunkstream_pool_pending Queued generation jobs.\n")
		fmt.Fprintf(rw, "# TYPE chunkstream_pool_pending gauge\n")
		fmt.Fprintf(rw, "chunkstream_pool_pending %d\n", pool.Pending())

		fmt.Fprintf(rw, "# HELP chunkstream_observers Connected observer viewers.\n")
		fmt.Fprintf(rw, "# TYPE chunkstream_observers gauge\n")
		fmt.Fprintf(rw, "chunkstream_observers %d\n", obs.Clients())

		fmt.Fprintf(rw, "# HELP chunkstream_remote_sites Sites driven over the site websocket.\n")
		fmt.Fprintf(rw, "# TYPE chunkstream_remote_sites gauge\n")
		fmt.Fprintf(rw, "chunkstream_remote_sites %d\n", remote.Sites())
	})
	mux.HandleFunc("/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/sites", remote.Handler())
	return mux
}

// wanderers moves sites along headings that drift a little every tick.
type wanderers struct {
	rng     *rand.Rand
	speed   float64
	ids     []string
	pos     []mgl64.Vec3
	heading []float64
}

func newWanderers(n int, speed float64, seed int64) *wanderers {
	w := &wanderers{rng: rand.New(rand.NewSource(seed)), speed: speed}
	for i := 0; i < n; i++ {
		w.ids = append(w.ids, runtime.NewSiteID())
		w.pos = append(w.pos, mgl64.Vec3{})
		w.heading = append(w.heading, w.rng.Float64()*2*math.Pi)
	}
	return w
}

func (w *wanderers) joins() []runtime.JoinRequest {
	out := make([]runtime.JoinRequest, len(w.ids))
	for i, id := range w.ids {
		out[i] = runtime.JoinRequest{ID: id, Position: w.pos[i]}
	}
	return out
}

func (w *wanderers) step(dt time.Duration) []runtime.MoveRequest {
	out := make([]runtime.MoveRequest, len(w.ids))
	dist := w.speed * dt.Seconds()
	for i, id := range w.ids {
		w.heading[i] += (w.rng.Float64() - 0.5) * 0.3
		dir := mgl64.Rotate2D(w.heading[i]).Mul2x1(mgl64.Vec2{1, 0})
		w.pos[i] = w.pos[i].Add(mgl64.Vec3{dir.X(), 0, dir.Y()}.Mul(dist))
		out[i] = runtime.MoveRequest{ID: id, Position: w.pos[i]}
	}
	return out
}

func traceSize(dir string) uint64 {
	if dir == "" {
		return 0
	}
	var total uint64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
