package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chunkstream.ai/internal/space"
	"chunkstream.ai/internal/stream/workpool"
)

// NoSite is the distance of every record while no site has loaded a chunk.
const NoSite = math.MaxInt32

type Config struct {
	// StreamRadius is the ring distance around a site's chunk that is kept loaded.
	StreamRadius int
	// MinDespawnDistance is the distance beyond which records are dropped.
	MinDespawnDistance int
	// DespawnInterval is the period of the despawn pass.
	DespawnInterval time.Duration
	// MaxDispatchPerTick caps generation jobs started per tick. Zero means no cap.
	MaxDispatchPerTick int
	// DispatchRate limits generation jobs per second of simulated time. Zero
	// means unlimited.
	DispatchRate  float64
	DispatchBurst int
}

func (c Config) Validate() error {
	if c.StreamRadius < 0 {
		return fmt.Errorf("stream radius must be >= 0, got %d", c.StreamRadius)
	}
	if c.MinDespawnDistance < c.StreamRadius {
		return fmt.Errorf("min despawn distance %d is inside stream radius %d", c.MinDespawnDistance, c.StreamRadius)
	}
	if c.DespawnInterval <= 0 {
		return fmt.Errorf("despawn interval must be > 0, got %s", c.DespawnInterval)
	}
	if c.MaxDispatchPerTick < 0 || c.DispatchRate < 0 || c.DispatchBurst < 0 {
		return errors.New("dispatch limits must be >= 0")
	}
	return nil
}

type Deps struct {
	Generator   Generator
	Mesher      Mesher
	Placeholder PlaceholderProvider
	Pool        workpool.Dispatcher
	Logger      *zap.Logger
}

// Transition is one record stage change produced by Advance.
type Transition struct {
	Tick     uint64
	Chunk    space.ChunkID
	From     Stage
	To       Stage
	Origin   mgl64.Vec3
	Distance int
	// Mesh is the placeholder for SPAWNED and the built mesh for MESH_ATTACHED.
	Mesh MeshDescriptor
}

// Controller owns the tracker and the records. It is not safe for concurrent
// use; a single control loop calls Advance once per tick.
type Controller struct {
	layout space.Layout
	cfg    Config
	deps   Deps
	log    *zap.Logger

	tracker *Tracker
	records map[space.ChunkID]*Record

	limiter      *rate.Limiter
	clock        time.Time
	tick         uint64
	sinceDespawn time.Duration
	sitesChanged bool

	out []Transition
}

func NewController(layout space.Layout, cfg Config, deps Deps) (*Controller, error) {
	if layout == nil {
		return nil, errors.New("stream: nil layout")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	if deps.Generator == nil || deps.Mesher == nil {
		return nil, errors.New("stream: generator and mesher are required")
	}
	if deps.Pool == nil {
		deps.Pool = workpool.Inline{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	limit, burst := rate.Inf, 0
	if cfg.DispatchRate > 0 {
		limit = rate.Limit(cfg.DispatchRate)
		burst = cfg.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
	}
	return &Controller{
		layout:  layout,
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.With(zap.String("component", "stream")),
		tracker: NewTracker(),
		records: map[space.ChunkID]*Record{},
		limiter: rate.NewLimiter(limit, burst),
		clock:   time.Unix(0, 0),
	}, nil
}

func (c *Controller) Layout() space.Layout { return c.layout }
func (c *Controller) Config() Config        { return c.cfg }
func (c *Controller) Tracker() *Tracker     { return c.tracker }
func (c *Controller) Tick() uint64          { return c.tick }

func (c *Controller) Record(id space.ChunkID) (*Record, bool) {
	r, ok := c.records[id]
	return r, ok
}

// Records returns all live records in chunk coordinate order.
func (c *Controller) Records() []*Record {
	out := make([]*Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return space.LessChunk(out[i].ID, out[j].ID) })
	return out
}

// StageCounts counts live records per stage.
func (c *Controller) StageCounts() map[Stage]int {
	out := map[Stage]int{}
	for _, r := range c.records {
		out[r.Stage]++
	}
	return out
}

// SitesChanged forces the next distance pass, e.g. after a site was removed.
func (c *Controller) SitesChanged() { c.sitesChanged = true }

// Retry clears a generation failure so the failed stage is dispatched again.
func (c *Controller) Retry(id space.ChunkID) bool {
	r, ok := c.records[id]
	if !ok || r.Err == nil {
		return false
	}
	r.Err = nil
	switch r.Stage {
	case StageVoxelsLoading:
		c.transition(r, StageSpawned, nil)
	case StageMeshBuilding:
		c.transition(r, StageVoxelsLoaded, nil)
	}
	return true
}

// Advance runs one tick: spawn around moved sites, recompute distances,
// poll and dispatch generation, and despawn on the despawn interval. It
// returns the stage changes made during the tick, including any made by
// Retry since the previous tick.
func (c *Controller) Advance(sites []*Site, dt time.Duration) []Transition {
	c.tick++
	c.clock = c.clock.Add(dt)

	c.spawnPass(sites)
	c.solvePass(sites)
	c.generatePass()
	c.despawnPass(dt)

	out := c.out
	c.out = nil
	return out
}

func (c *Controller) spawnPass(sites []*Site) {
	for _, s := range sites {
		if s == nil || s.fresh {
			continue
		}
		cur := c.layout.SpaceToChunk(s.Position)
		if s.lastLoaded == cur {
			continue
		}
		ids := append([]space.ChunkID{cur}, c.layout.ChunkNeighbors(cur, c.cfg.StreamRadius)...)
		spawned := 0
		for _, id := range ids {
			if !c.tracker.TrySpawn(id) {
				continue
			}
			r := &Record{
				ID:        id,
				Origin:    c.layout.ChunkToSpace(id),
				Distance:  c.layout.ChunkDistance(id, cur),
				SpawnTick: c.tick,
			}
			if c.deps.Placeholder != nil {
				r.Placeholder = c.deps.Placeholder.PlaceholderGeometry()
			}
			c.records[id] = r
			c.transition(r, StageSpawned, r.Placeholder)
			spawned++
		}
		c.log.Debug("site entered chunk",
			zap.String("site", s.ID),
			zap.Stringer("chunk", cur),
			zap.Int("spawned", spawned),
		)
		s.lastLoaded = cur
		s.fresh = true
	}
}

// solvePass recomputes record distances against every site whenever any
// site moved to a new chunk, then consumes the fresh flags.
func (c *Controller) solvePass(sites []*Site) {
	anyFresh := c.sitesChanged
	for _, s := range sites {
		if s != nil && s.fresh {
			anyFresh = true
		}
	}
	if !anyFresh {
		return
	}
	loaded := make([]space.ChunkID, 0, len(sites))
	for _, s := range sites {
		if s == nil {
			continue
		}
		if id, ok := s.LastLoadedChunk(); ok {
			loaded = append(loaded, id)
		}
	}
	for _, r := range c.records {
		best := NoSite
		for _, id := range loaded {
			if d := c.layout.ChunkDistance(r.ID, id); d < best {
				best = d
			}
		}
		r.Distance = best
	}
	for _, s := range sites {
		if s != nil {
			s.fresh = false
		}
	}
	c.sitesChanged = false
}

func (c *Controller) generatePass() {
	recs := c.byDistance()
	for _, r := range recs {
		c.poll(r)
	}

	budget := c.cfg.MaxDispatchPerTick
	for _, r := range recs {
		if c.cfg.MaxDispatchPerTick > 0 && budget == 0 {
			return
		}
		var dispatched bool
		switch {
		case r.wantsVoxels():
			if !c.allow() {
				return
			}
			dispatched = c.dispatchVoxels(r)
		case r.wantsMesh():
			if !c.allow() {
				return
			}
			dispatched = c.dispatchMesh(r)
		default:
			continue
		}
		if !dispatched {
			// Pool is saturated; the rest waits for a later tick.
			return
		}
		budget--
	}
}

func (c *Controller) allow() bool {
	return c.limiter.AllowN(c.clock, 1)
}

func (c *Controller) poll(r *Record) {
	if r.voxelTask != nil {
		if buf, done, err := r.voxelTask.Poll(); done {
			r.voxelTask = nil
			if err != nil {
				c.fail(r, err)
			} else {
				r.Tiles = buf
				c.transition(r, StageVoxelsLoaded, nil)
			}
		}
	}
	if r.meshTask != nil {
		if mesh, done, err := r.meshTask.Poll(); done {
			r.meshTask = nil
			if err != nil {
				c.fail(r, err)
			} else {
				r.Mesh = mesh
				c.transition(r, StageMeshAttached, mesh)
			}
		}
	}
}

func (c *Controller) fail(r *Record, err error) {
	r.Err = err
	c.log.Warn("chunk generation failed",
		zap.Stringer("chunk", r.ID),
		zap.Stringer("stage", r.Stage),
		zap.Error(err),
	)
}

func (c *Controller) dispatchVoxels(r *Record) bool {
	tiles := c.layout.ChunkTiles(r.ID)
	gen := c.deps.Generator
	task, ok := workpool.Go(c.deps.Pool, func(ctx context.Context) (TileBuffer, error) {
		buf := make(TileBuffer, len(tiles))
		for _, t := range tiles {
			buf[t] = TileData{}
		}
		if err := gen.Generate(ctx, buf); err != nil {
			return nil, err
		}
		return buf, nil
	})
	if !ok {
		return false
	}
	r.voxelTask = task
	c.transition(r, StageVoxelsLoading, nil)
	return true
}

func (c *Controller) dispatchMesh(r *Record) bool {
	tiles := r.Tiles
	mesher := c.deps.Mesher
	task, ok := workpool.Go(c.deps.Pool, func(ctx context.Context) (MeshDescriptor, error) {
		return mesher.Build(ctx, tiles)
	})
	if !ok {
		return false
	}
	r.meshTask = task
	c.transition(r, StageMeshBuilding, nil)
	return true
}

func (c *Controller) despawnPass(dt time.Duration) {
	c.sinceDespawn += dt
	if c.sinceDespawn < c.cfg.DespawnInterval {
		return
	}
	c.sinceDespawn = 0

	removed := 0
	for _, r := range c.Records() {
		if r.Distance <= c.cfg.MinDespawnDistance || r.SpawnTick == c.tick {
			continue
		}
		c.tracker.TryDespawn(r.ID)
		delete(c.records, r.ID)
		// Outstanding tasks are dropped with the record.
		r.voxelTask = nil
		r.meshTask = nil
		c.transition(r, StageDespawned, nil)
		removed++
	}
	if removed > 0 {
		c.log.Debug("despawned chunks", zap.Int("count", removed), zap.Int("loaded", c.tracker.Len()))
	}
}

func (c *Controller) transition(r *Record, to Stage, mesh MeshDescriptor) {
	c.out = append(c.out, Transition{
		Tick:     c.tick,
		Chunk:    r.ID,
		From:     r.Stage,
		To:       to,
		Origin:   r.Origin,
		Distance: r.Distance,
		Mesh:     mesh,
	})
	r.Stage = to
}

// byDistance orders records nearest first, ties by coordinates.
func (c *Controller) byDistance() []*Record {
	out := c.Records()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
