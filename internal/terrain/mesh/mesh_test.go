package mesh

import (
	"context"
	"errors"
	"math"
	"testing"

	"chunkstream.ai/internal/space"
	"chunkstream.ai/internal/stream"
)

func TestSurfaceMesher_TopSolidPerColumn(t *testing.T) {
	layout, err := space.New(space.Geometry{Family: space.FamilySquare, Radius: 1, TileSize: 2, Height: 4})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	buf := stream.TileBuffer{
		space.SquareVoxel{X: 0, Y: 0, Z: 0}: {Block: 1},
		space.SquareVoxel{X: 0, Y: 1, Z: 0}: {Block: 3},
		space.SquareVoxel{X: 0, Y: 2, Z: 0}: {Block: 0},
		space.SquareVoxel{X: 1, Y: 0, Z: 0}: {Block: 2},
		space.SquareVoxel{X: 1, Y: 3, Z: 0}: {Block: 0},
		space.SquareVoxel{X: 1, Y: 0, Z: 1}: {Block: 0},
	}
	desc, err := NewSurfaceMesher(layout, nil).Build(context.Background(), buf)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s := desc.(*Surface)
	if len(s.Cells) != 2 {
		t.Fatalf("expected 2 surface cells, got %+v", s.Cells)
	}
	if s.Cells[0].Tile != (space.SquareVoxel{X: 0, Y: 1, Z: 0}) || s.Cells[0].Block != 3 {
		t.Fatalf("column (0,0) surface = %+v", s.Cells[0])
	}
	if s.Cells[1].Tile != (space.SquareVoxel{X: 1, Y: 0, Z: 0}) || s.Cells[1].Block != 2 {
		t.Fatalf("column (1,0) surface = %+v", s.Cells[1])
	}
	if got := s.Cells[0].Pos; got.Y() != 2 {
		t.Fatalf("surface position not in world space: %v", got)
	}
}

func TestSurfaceMesher_CustomEmptyAndHex(t *testing.T) {
	layout, err := space.New(space.Geometry{Family: space.FamilyHex, Radius: 1, TileSize: 1, Height: 3})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	tile := space.NewCube(1, 0)
	buf := stream.TileBuffer{
		space.HexVoxel{Tile: tile, H: 0}: {Block: 1},
		space.HexVoxel{Tile: tile, H: 1}: {Block: 5},
	}
	water := func(b uint16) bool { return b == 0 || b == 5 }
	desc, err := NewSurfaceMesher(layout, water).Build(context.Background(), buf)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cells := desc.(*Surface).Cells
	if len(cells) != 1 || cells[0].Tile != (space.HexVoxel{Tile: tile, H: 0}) {
		t.Fatalf("expected stone below water as surface, got %+v", cells)
	}
}

func TestSurfaceMesher_Cancelled(t *testing.T) {
	layout, _ := space.New(space.Geometry{Family: space.FamilySquare, Radius: 1, TileSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSurfaceMesher(layout, nil).Build(ctx, stream.TileBuffer{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestOutlineProvider(t *testing.T) {
	hex, _ := space.New(space.Geometry{Family: space.FamilyHex, Radius: 2, TileSize: 1.5})
	p := NewOutlineProvider(hex)
	o := p.PlaceholderGeometry().(*Outline)
	if o != p.PlaceholderGeometry().(*Outline) {
		t.Fatalf("placeholder should be shared")
	}
	if len(o.Corners) != 6 || len(o.Lines) != 12 {
		t.Fatalf("hex outline has %d corners, %d line indices", len(o.Corners), len(o.Lines))
	}
	for _, c := range o.Corners {
		if math.Abs(c.Len()-7.5) > 1e-9 || math.Abs(c.Y()) > 1e-9 {
			t.Fatalf("corner %v not on the chunk circle", c)
		}
	}

	sq, _ := space.New(space.Geometry{Family: space.FamilySquare, Radius: 2, TileSize: 1})
	o = NewOutlineProvider(sq).PlaceholderGeometry().(*Outline)
	if len(o.Corners) != 4 || o.Corners[2].X() != 2.5 || o.Corners[2].Z() != 2.5 {
		t.Fatalf("unexpected square outline: %+v", o.Corners)
	}
	if o.Lines[len(o.Lines)-1] != 0 {
		t.Fatalf("outline should close the loop")
	}
}
