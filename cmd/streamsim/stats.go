package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"chunkstream.ai/internal/observerproto"
)

// statsSink tallies transitions per target stage and keeps the last tick's
// counts for /metrics. HTTP handlers read only this copy; the controller
// itself belongs to the loop goroutine.
type statsSink struct {
	mu       sync.Mutex
	byStage  map[string]int64
	total    int64
	peakLoad int
	last     tickSnapshot
}

type tickSnapshot struct {
	tick   uint64
	loaded int
	stages []stageCount
}

type stageCount struct {
	name  string
	count int
}

func (s *statsSink) WriteTick(msg observerproto.TickMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byStage == nil {
		s.byStage = map[string]int64{}
	}
	for _, tr := range msg.Transitions {
		s.byStage[tr.To]++
	}
	s.total += int64(len(msg.Transitions))
	if msg.Loaded > s.peakLoad {
		s.peakLoad = msg.Loaded
	}
	stages := make([]stageCount, 0, len(msg.Stages))
	for name, n := range msg.Stages {
		stages = append(stages, stageCount{name: name, count: n})
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].name < stages[j].name })
	s.last = tickSnapshot{tick: msg.Tick, loaded: msg.Loaded, stages: stages}
	return nil
}

func (s *statsSink) latest() tickSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *statsSink) print(w io.Writer, ticks uint64, elapsed time.Duration, traceBytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(w, "ticks          %s in %s\n", humanize.Comma(int64(ticks)), elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "transitions    %s\n", humanize.Comma(s.total))
	fmt.Fprintf(w, "spawned        %s\n", humanize.Comma(s.byStage["SPAWNED"]))
	fmt.Fprintf(w, "meshed         %s\n", humanize.Comma(s.byStage["MESH_ATTACHED"]))
	fmt.Fprintf(w, "despawned      %s\n", humanize.Comma(s.byStage["DESPAWNED"]))
	fmt.Fprintf(w, "peak loaded    %s\n", humanize.Comma(int64(s.peakLoad)))
	if traceBytes > 0 {
		fmt.Fprintf(w, "trace on disk  %s\n", humanize.Bytes(traceBytes))
	}
}
