package space

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"chunkstream.ai/internal/mathx"
)

func mustSquare(t *testing.T, radius int) *SquareLayout {
	t.Helper()
	l, err := New(Geometry{Family: FamilySquare, Radius: radius, TileSize: 1})
	if err != nil {
		t.Fatalf("new square layout: %v", err)
	}
	return l.(*SquareLayout)
}

func TestNew_RejectsInvalidGeometry(t *testing.T) {
	bad := []Geometry{
		{Family: FamilySquare, Radius: 0, TileSize: 1},
		{Family: FamilyHex, Radius: -2, TileSize: 1},
		{Family: FamilySquare, Radius: 2, TileSize: 0},
		{Family: FamilyHex, Radius: 2, TileSize: -1},
		{Family: FamilySquare, Radius: 2, TileSize: 1, Height: -1},
		{Family: "triangle", Radius: 2, TileSize: 1},
	}
	for _, g := range bad {
		if _, err := New(g); !errors.Is(err, ErrInvalidGeometry) {
			t.Fatalf("geometry %+v: expected ErrInvalidGeometry, got %v", g, err)
		}
	}
}

func TestSquare_EndToEndAddressing(t *testing.T) {
	l := mustSquare(t, 2)
	if got := l.SpaceToChunk(mgl64.Vec3{0.4, 0, 0.4}); got != (SquareChunk{}) {
		t.Fatalf("space (0.4,0,0.4): got %v want origin chunk", got)
	}
	if got := l.SpaceToChunk(mgl64.Vec3{5, 0, 5}); got != (SquareChunk{X: 1, Z: 1}) {
		t.Fatalf("space (5,0,5): got %v want sq(1,1)", got)
	}
	n := l.ChunkNeighbors(SquareChunk{}, 1)
	if len(n) != 8 {
		t.Fatalf("expected 8 neighbors, got %d", len(n))
	}
	for _, c := range n {
		if d := l.ChunkDistance(SquareChunk{}, c); d != 1 {
			t.Fatalf("neighbor %v at distance %d", c, d)
		}
	}
}

func TestSquare_NegativeCoordinatesFloor(t *testing.T) {
	l := mustSquare(t, 2)
	cases := []struct {
		x    int
		want int
	}{
		{-2, 0}, {-3, -1}, {-7, -1}, {-8, -2}, {2, 0}, {3, 1},
	}
	for _, c := range cases {
		got := l.TileToChunk(SquareVoxel{X: c.x, Z: c.x}).(SquareChunk)
		if got.X != c.want || got.Z != c.want {
			t.Fatalf("voxel x=%d: got %v want chunk %d", c.x, got, c.want)
		}
	}
	if got := l.SpaceToChunk(mgl64.Vec3{-2.6, 0, 0}); got != (SquareChunk{X: -1}) {
		t.Fatalf("space x=-2.6: got %v want sq(-1,0)", got)
	}
}

func TestSquare_NeighborCountsAndMutuality(t *testing.T) {
	l := mustSquare(t, 3)
	center := SquareChunk{X: -4, Z: 7}
	for d := 1; d <= 5; d++ {
		ring := l.ChunkRing(center, d)
		if len(ring) != 8*d {
			t.Fatalf("ring %d: got %d chunks want %d", d, len(ring), 8*d)
		}
		seen := map[ChunkID]bool{}
		for _, c := range ring {
			if seen[c] {
				t.Fatalf("ring %d: duplicate %v", d, c)
			}
			seen[c] = true
			if got := l.ChunkDistance(center, c); got != d {
				t.Fatalf("ring %d: %v at distance %d", d, c, got)
			}
		}

		all := l.ChunkNeighbors(center, d)
		if want := (2*d+1)*(2*d+1) - 1; len(all) != want {
			t.Fatalf("neighbors %d: got %d want %d", d, len(all), want)
		}
		for _, n := range all {
			if !containsChunk(l.ChunkNeighbors(n, d), center) {
				t.Fatalf("neighbors %d: %v does not list %v back", d, n, center)
			}
		}
	}
}

func TestSquare_RoundTrips(t *testing.T) {
	for _, g := range []Geometry{
		{Family: FamilySquare, Radius: 2, TileSize: 1},
		{Family: FamilySquare, Radius: 4, TileSize: 0.1, TileHeight: 0.25, Height: 4, Origin: [2]int{3, -2}},
	} {
		l, err := New(g)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		for x := -6; x <= 6; x++ {
			for z := -6; z <= 6; z++ {
				c := SquareChunk{X: x, Z: z}
				if got := l.SpaceToChunk(l.ChunkToSpace(c)); got != c {
					t.Fatalf("%+v chunk round trip: got %v want %v", g, got, c)
				}
				v := SquareVoxel{X: x * 3, Y: mathx.Mod(x+z, 4), Z: z * 5}
				if got := l.SpaceToTile(l.TileToSpace(v)); got != v {
					t.Fatalf("%+v voxel round trip: got %v want %v", g, got, v)
				}
			}
		}
	}
}

func TestSquare_ChunkTilesResolveBack(t *testing.T) {
	l, err := New(Geometry{Family: FamilySquare, Radius: 2, TileSize: 0.5, Height: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, c := range []ChunkID{SquareChunk{}, SquareChunk{X: -3, Z: 2}, SquareChunk{X: 5, Z: -1}} {
		tiles := l.ChunkTiles(c)
		if len(tiles) != 25*3 || l.TilesPerChunk() != 75 {
			t.Fatalf("chunk %v: got %d tiles", c, len(tiles))
		}
		for _, tile := range tiles {
			if got := l.SpaceToChunk(l.TileToSpace(tile)); got != c {
				t.Fatalf("tile %v of %v resolved to %v", tile, c, got)
			}
		}
	}
}

func TestSquare_PanicsOnForeignID(t *testing.T) {
	l := mustSquare(t, 1)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for hex id")
		}
	}()
	l.ChunkToSpace(HexChunk{})
}

func containsChunk(ids []ChunkID, want ChunkID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
