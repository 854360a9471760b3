package stream

import (
	"github.com/go-gl/mathgl/mgl64"

	"chunkstream.ai/internal/space"
)

// Site is a tracked position that keeps chunks loaded around it.
type Site struct {
	ID       string
	Position mgl64.Vec3

	lastLoaded space.ChunkID
	fresh      bool
}

func NewSite(id string, pos mgl64.Vec3) *Site {
	return &Site{ID: id, Position: pos}
}

func (s *Site) MoveTo(pos mgl64.Vec3) { s.Position = pos }

// LastLoadedChunk is the chunk the controller last streamed around.
func (s *Site) LastLoadedChunk() (space.ChunkID, bool) {
	return s.lastLoaded, s.lastLoaded != nil
}

// Fresh reports whether the site changed chunk since distances were last
// recomputed.
func (s *Site) Fresh() bool { return s.fresh }
