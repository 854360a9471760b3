package runtime

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chunkstream.ai/internal/observerproto"
	"chunkstream.ai/internal/stream"
)

type JoinRequest struct {
	// ID names the site. Empty means a fresh random id.
	ID       string
	Position mgl64.Vec3
}

type MoveRequest struct {
	ID       string
	Position mgl64.Vec3
}

// Sink consumes one message per tick.
type Sink interface {
	WriteTick(msg observerproto.TickMsg) error
}

// Loop owns the sites and drives the controller from a ticker. Requests
// arriving between ticks are applied at the start of the next tick.
type Loop struct {
	ctrl     *stream.Controller
	tickRate int
	log      *zap.Logger

	join  chan JoinRequest
	move  chan MoveRequest
	leave chan string
	stop  chan struct{}

	sites map[string]*stream.Site
	sinks []Sink

	tick atomic.Uint64
}

func NewSiteID() string { return uuid.NewString() }

func New(ctrl *stream.Controller, tickRateHz int, logger *zap.Logger) *Loop {
	if tickRateHz <= 0 {
		tickRateHz = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		ctrl:     ctrl,
		tickRate: tickRateHz,
		log:      logger.With(zap.String("component", "loop")),
		join:     make(chan JoinRequest, 64),
		move:     make(chan MoveRequest, 1024),
		leave:    make(chan string, 64),
		stop:     make(chan struct{}),
		sites:    map[string]*stream.Site{},
	}
}

func (l *Loop) Join() chan<- JoinRequest       { return l.join }
func (l *Loop) Move() chan<- MoveRequest       { return l.move }
func (l *Loop) Leave() chan<- string           { return l.leave }
func (l *Loop) Controller() *stream.Controller { return l.ctrl }
func (l *Loop) TickRateHz() int                { return l.tickRate }
func (l *Loop) CurrentTick() uint64            { return l.tick.Load() }

// AddSink registers s. Call before Run.
func (l *Loop) AddSink(s Sink) { l.sinks = append(l.sinks, s) }

func (l *Loop) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(l.tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingMoves []MoveRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case req := <-l.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-l.move:
			pendingMoves = append(pendingMoves, req)
		case id := <-l.leave:
			pendingLeaves = append(pendingLeaves, id)
		case <-ticker.C:
			l.step(pendingJoins, pendingMoves, pendingLeaves, interval)
			pendingJoins = pendingJoins[:0]
			pendingMoves = pendingMoves[:0]
			pendingLeaves = pendingLeaves[:0]
		}
	}
}

func (l *Loop) Stop() { close(l.stop) }

// StepOnce advances by a single tick using the same ordering as Run.
func (l *Loop) StepOnce(joins []JoinRequest, moves []MoveRequest, leaves []string, dt time.Duration) observerproto.TickMsg {
	return l.step(joins, moves, leaves, dt)
}

func (l *Loop) step(joins []JoinRequest, moves []MoveRequest, leaves []string, dt time.Duration) observerproto.TickMsg {
	var joined, left []string
	for _, req := range joins {
		id := req.ID
		if id == "" {
			id = NewSiteID()
		}
		if s := l.sites[id]; s != nil {
			s.MoveTo(req.Position)
			continue
		}
		l.sites[id] = stream.NewSite(id, req.Position)
		joined = append(joined, id)
	}
	for _, req := range moves {
		if s := l.sites[req.ID]; s != nil {
			s.MoveTo(req.Position)
		}
	}
	for _, id := range leaves {
		if _, ok := l.sites[id]; ok {
			delete(l.sites, id)
			left = append(left, id)
		}
	}
	if len(left) > 0 {
		l.ctrl.SitesChanged()
	}

	sites := l.orderedSites()
	transitions := l.ctrl.Advance(sites, dt)
	l.tick.Store(l.ctrl.Tick())

	msg := l.tickMsg(sites, transitions)
	msg.DtNanos = int64(dt)
	msg.Joins = joined
	msg.Leaves = left
	for _, s := range l.sinks {
		if err := s.WriteTick(msg); err != nil {
			l.log.Warn("tick sink failed", zap.Uint64("tick", msg.Tick), zap.Error(err))
		}
	}
	return msg
}

func (l *Loop) orderedSites() []*stream.Site {
	out := make([]*stream.Site, 0, len(l.sites))
	for _, s := range l.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Loop) tickMsg(sites []*stream.Site, transitions []stream.Transition) observerproto.TickMsg {
	msg := observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		Tick:            l.ctrl.Tick(),
		Loaded:          l.ctrl.Tracker().Len(),
		Stages:          map[string]int{},
	}
	for stage, n := range l.ctrl.StageCounts() {
		msg.Stages[stage.String()] = n
	}
	for _, s := range sites {
		st := observerproto.SiteState{ID: s.ID, Pos: vec(s.Position)}
		if id, ok := s.LastLoadedChunk(); ok {
			st.Chunk = id.Coords()
		}
		msg.Sites = append(msg.Sites, st)
	}
	for _, tr := range transitions {
		msg.Transitions = append(msg.Transitions, observerproto.TransitionInfo{
			Chunk:    tr.Chunk.Coords(),
			From:     tr.From.String(),
			To:       tr.To.String(),
			Origin:   vec(tr.Origin),
			Distance: tr.Distance,
		})
	}
	return msg
}

func vec(v mgl64.Vec3) [3]float64 { return [3]float64{v.X(), v.Y(), v.Z()} }
