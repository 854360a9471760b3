// Package stream keeps the set of loaded chunks around moving sites and
// drives each chunk through asynchronous content generation.
package stream

import (
	"context"

	"chunkstream.ai/internal/space"
)

// TileData is the generated content of one tile.
type TileData struct {
	Block uint16
}

// TileBuffer holds the content of one chunk, keyed by tile.
type TileBuffer map[space.TileID]TileData

// MeshDescriptor is an opaque renderable produced by a Mesher.
type MeshDescriptor any

// Generator fills a default-initialized buffer in place. It is called from
// worker goroutines and must be safe for concurrent use on distinct buffers.
type Generator interface {
	Generate(ctx context.Context, buf TileBuffer) error
}

// Mesher derives a renderable descriptor from generated chunk content.
type Mesher interface {
	Build(ctx context.Context, tiles TileBuffer) (MeshDescriptor, error)
}

// PlaceholderProvider supplies the stand-in visual shown while a chunk loads.
type PlaceholderProvider interface {
	PlaceholderGeometry() MeshDescriptor
}

type Stage uint8

const (
	StageNone Stage = iota
	StageSpawned
	StageVoxelsLoading
	StageVoxelsLoaded
	StageMeshBuilding
	StageMeshAttached
	StageDespawned
)

func (s Stage) String() string {
	switch s {
	case StageSpawned:
		return "SPAWNED"
	case StageVoxelsLoading:
		return "VOXELS_LOADING"
	case StageVoxelsLoaded:
		return "VOXELS_LOADED"
	case StageMeshBuilding:
		return "MESH_BUILDING"
	case StageMeshAttached:
		return "MESH_ATTACHED"
	case StageDespawned:
		return "DESPAWNED"
	default:
		return "NONE"
	}
}
