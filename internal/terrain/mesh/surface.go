// Package mesh turns generated chunk content into renderable descriptors.
package mesh

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"chunkstream.ai/internal/space"
	"chunkstream.ai/internal/stream"
)

// Cell is the topmost solid voxel of one column.
type Cell struct {
	Tile  space.TileID
	Block uint16
	// Pos is the world-space center of Tile.
	Pos mgl64.Vec3
}

// Surface is the heightfield view of one chunk, cells ordered by tile.
type Surface struct {
	Cells []Cell
}

// SurfaceMesher is a stream.Mesher producing *Surface descriptors.
type SurfaceMesher struct {
	layout space.Layout
	// Empty blocks are skipped when looking for a column's top.
	Empty func(block uint16) bool
}

var _ stream.Mesher = (*SurfaceMesher)(nil)

func NewSurfaceMesher(layout space.Layout, empty func(block uint16) bool) *SurfaceMesher {
	if empty == nil {
		empty = func(b uint16) bool { return b == 0 }
	}
	return &SurfaceMesher{layout: layout, Empty: empty}
}

type columnKey [3]int

func (m *SurfaceMesher) Build(ctx context.Context, tiles stream.TileBuffer) (stream.MeshDescriptor, error) {
	top := map[columnKey]Cell{}
	layers := map[columnKey]int{}
	for t, d := range tiles {
		if m.Empty(d.Block) {
			continue
		}
		col, layer, err := columnOf(t)
		if err != nil {
			return nil, err
		}
		if cur, ok := layers[col]; ok && cur >= layer {
			continue
		}
		layers[col] = layer
		top[col] = Cell{Tile: t, Block: d.Block}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &Surface{Cells: make([]Cell, 0, len(top))}
	for _, c := range top {
		c.Pos = m.layout.TileToSpace(c.Tile)
		s.Cells = append(s.Cells, c)
	}
	sort.Slice(s.Cells, func(i, j int) bool { return space.LessTile(s.Cells[i].Tile, s.Cells[j].Tile) })
	return s, nil
}

func columnOf(t space.TileID) (columnKey, int, error) {
	switch v := t.(type) {
	case space.SquareVoxel:
		return columnKey{v.X, 0, v.Z}, v.Y, nil
	case space.HexVoxel:
		return columnKey{v.Tile.X(), v.Tile.Y(), v.Tile.Z()}, v.H, nil
	default:
		return columnKey{}, 0, fmt.Errorf("mesh: unsupported tile id %T", t)
	}
}
