package stream

import (
	"github.com/go-gl/mathgl/mgl64"

	"chunkstream.ai/internal/space"
	"chunkstream.ai/internal/stream/workpool"
)

// Record is the controller's state for one live chunk.
type Record struct {
	ID     space.ChunkID
	Origin mgl64.Vec3
	// Distance is the chunk distance to the nearest site's last loaded chunk.
	Distance  int
	Stage     Stage
	SpawnTick uint64

	Tiles       TileBuffer
	Mesh        MeshDescriptor
	Placeholder MeshDescriptor

	// Err is the last generation failure. A failed record stays in its
	// pending stage until Controller.Retry.
	Err error

	voxelTask *workpool.Task[TileBuffer]
	meshTask  *workpool.Task[MeshDescriptor]
}

// InFlight reports whether a generation stage is outstanding.
func (r *Record) InFlight() bool { return r.voxelTask != nil || r.meshTask != nil }

func (r *Record) wantsVoxels() bool {
	return r.Stage == StageSpawned && r.voxelTask == nil && r.Err == nil
}

func (r *Record) wantsMesh() bool {
	return r.Stage == StageVoxelsLoaded && r.Mesh == nil && r.meshTask == nil && r.Err == nil
}
