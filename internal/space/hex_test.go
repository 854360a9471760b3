package space

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func mustHex(t *testing.T, g Geometry) *HexLayout {
	t.Helper()
	g.Family = FamilyHex
	if g.TileSize == 0 {
		g.TileSize = 1
	}
	l, err := New(g)
	if err != nil {
		t.Fatalf("new hex layout: %v", err)
	}
	return l.(*HexLayout)
}

func TestCube_ArithmeticKeepsZeroSum(t *testing.T) {
	a := NewCube(3, -7)
	b := CubeFromAxial(-2, 5)
	for _, c := range []Cube{a, b, a.Add(b), a.Sub(b), a.Scale(-4), a.Neg(), a.Rotate60(), a.Rotate60().Rotate60()} {
		if c.X()+c.Y()+c.Z() != 0 {
			t.Fatalf("%s does not sum to zero", c)
		}
	}
	r := a
	for i := 0; i < 6; i++ {
		r = r.Rotate60()
	}
	if r != a {
		t.Fatalf("six rotations should be identity: got %s want %s", r, a)
	}
	if d := a.DistanceStep(a.Add(NewCube(2, -1))); d != 2 {
		t.Fatalf("distance step: got %d want 2", d)
	}
}

func TestHex_TransformsAreInverse(t *testing.T) {
	m := hexToSpace.Mul2(spaceToHex)
	if !m.ApproxEqualThreshold(mgl64.Ident2(), 1e-12) {
		t.Fatalf("HEX2SPACE*SPACE2HEX = %v", m)
	}
}

func TestHex_LookupCoversPeriod(t *testing.T) {
	for r := 1; r <= 12; r++ {
		l := mustHex(t, Geometry{Radius: r})
		if want := 3*r*r + 3*r + 1; l.Period() != want || len(l.lookup) != want {
			t.Fatalf("radius %d: period %d table %d want %d", r, l.Period(), len(l.lookup), want)
		}
		for k, delta := range l.lookup {
			if delta.DistanceStep(Cube{}) > r {
				t.Fatalf("radius %d: key %d delta %s exceeds radius", r, k, delta)
			}
			if got := l.key(delta.Neg()); got != k {
				t.Fatalf("radius %d: entry at key %d belongs to key %d", r, k, got)
			}
		}
	}
}

func TestHex_EveryTileWithinRadiusOfItsChunk(t *testing.T) {
	for r := 1; r <= 6; r++ {
		l := mustHex(t, Geometry{Radius: r})
		span := 4*r + 3
		for x := -span; x <= span; x++ {
			for z := -span; z <= span; z++ {
				tile := NewCube(x, z)
				c := l.TileToChunk(HexVoxel{Tile: tile}).(HexChunk)
				if d := c.Center.DistanceStep(tile); d > r {
					t.Fatalf("radius %d: tile %s -> %s at distance %d", r, tile, c, d)
				}
				// The center must itself be a lattice point.
				l.ChunkIndex(c)
			}
		}
	}
}

func TestHex_ChunkTilesResolveBack(t *testing.T) {
	for r := 1; r <= 5; r++ {
		l := mustHex(t, Geometry{Radius: r, TileSize: 0.75, Height: 2, Origin: [2]int{1, -1}})
		for _, c := range []ChunkID{l.ChunkAt(0, 0), l.ChunkAt(2, -3), l.ChunkAt(-4, 1)} {
			tiles := l.ChunkTiles(c)
			if len(tiles) != l.TilesPerChunk() || len(tiles) != 2*l.Period() {
				t.Fatalf("radius %d chunk %v: got %d tiles", r, c, len(tiles))
			}
			seen := map[TileID]bool{}
			for _, tile := range tiles {
				if seen[tile] {
					t.Fatalf("radius %d chunk %v: duplicate tile %v", r, c, tile)
				}
				seen[tile] = true
				if got := l.TileToChunk(tile); got != c {
					t.Fatalf("radius %d: tile %v of %v resolved to %v", r, tile, c, got)
				}
				if got := l.SpaceToChunk(l.TileToSpace(tile)); got != c {
					t.Fatalf("radius %d: tile %v of %v resolved through space to %v", r, tile, c, got)
				}
			}
		}
	}
}

func TestHex_OriginChunkRadiusOne(t *testing.T) {
	l := mustHex(t, Geometry{Radius: 1})
	if l.Period() != 7 {
		t.Fatalf("expected period 7, got %d", l.Period())
	}
	origin := l.SpaceToChunk(mgl64.Vec3{0, 0, 0}).(HexChunk)
	if origin != (HexChunk{}) {
		t.Fatalf("space origin resolved to %v", origin)
	}
	tiles := l.ChunkTiles(origin)
	if len(tiles) != 7 {
		t.Fatalf("expected 7 tiles, got %d", len(tiles))
	}
	for _, tile := range tiles {
		v := tile.(HexVoxel)
		if v.H != 0 {
			t.Fatalf("tile %v not at height 0", v)
		}
		if v.Tile.DistanceStep(origin.Center) > 1 {
			t.Fatalf("tile %v outside chunk radius", v)
		}
	}
}

func TestHex_RingAndNeighborCounts(t *testing.T) {
	for r := 1; r <= 4; r++ {
		l := mustHex(t, Geometry{Radius: r})
		center := l.ChunkAt(3, -2)
		for d := 1; d <= 4; d++ {
			ring := l.ChunkRing(center, d)
			if len(ring) != 6*d {
				t.Fatalf("radius %d ring %d: got %d want %d", r, d, len(ring), 6*d)
			}
			seen := map[ChunkID]bool{}
			for _, c := range ring {
				if seen[c] {
					t.Fatalf("radius %d ring %d: duplicate %v", r, d, c)
				}
				seen[c] = true
				if got := l.ChunkDistance(center, c); got != d {
					t.Fatalf("radius %d ring %d: %v at distance %d", r, d, c, got)
				}
			}
			all := l.ChunkNeighbors(center, d)
			if want := 3*d*d + 3*d; len(all) != want {
				t.Fatalf("radius %d neighbors %d: got %d want %d", r, d, len(all), want)
			}
			for _, n := range all {
				if !containsChunk(l.ChunkNeighbors(n, d), center) {
					t.Fatalf("radius %d neighbors %d: %v does not list %v back", r, d, n, center)
				}
			}
		}
	}
}

func TestHex_AdjacentChunksShareAnEdge(t *testing.T) {
	l := mustHex(t, Geometry{Radius: 3})
	c := l.ChunkAt(0, 0)
	for _, n := range l.ChunkRing(c, 1) {
		center := n.(HexChunk).Center
		if d := center.DistanceStep(c.Center); d != 2*3+1 {
			t.Fatalf("adjacent chunk %v at tile distance %d want 7", n, d)
		}
	}
}

func TestHex_RoundTrips(t *testing.T) {
	l := mustHex(t, Geometry{Radius: 2, TileSize: 0.3, TileHeight: 0.5, Height: 4, Origin: [2]int{-1, 2}})
	for i := -5; i <= 5; i++ {
		for j := -5; j <= 5; j++ {
			c := l.ChunkAt(i, j)
			if gi, gj := l.ChunkIndex(c); gi != i || gj != j {
				t.Fatalf("chunk index round trip: got (%d,%d) want (%d,%d)", gi, gj, i, j)
			}
			if got := l.SpaceToChunk(l.ChunkToSpace(c)); got != c {
				t.Fatalf("chunk round trip: got %v want %v", got, c)
			}
			v := HexVoxel{Tile: NewCube(i*3, j*2-1), H: (i + 5) % 4}
			if got := l.SpaceToTile(l.TileToSpace(v)); got != v {
				t.Fatalf("tile round trip: got %v want %v", got, v)
			}
		}
	}
}

func TestHex_OriginMapsToSpaceZero(t *testing.T) {
	l := mustHex(t, Geometry{Radius: 2, Origin: [2]int{2, 1}})
	p := l.ChunkToSpace(l.ChunkAt(2, 1))
	if p.Len() > 1e-9 {
		t.Fatalf("origin chunk at %v, want zero", p)
	}
}

func TestRoundCube_CorrectsLargestError(t *testing.T) {
	cases := []struct {
		q, r float64
		want Cube
	}{
		{0.1, 0.1, NewCube(0, 0)},
		{0.6, 0.3, NewCube(1, 0)},
		{-0.4, 0.9, NewCube(0, 1)},
		{2.45, -1.2, NewCube(2, -1)},
	}
	for _, c := range cases {
		got := roundCube(c.q, c.r)
		if got != c.want {
			t.Fatalf("round(%v,%v): got %s want %s", c.q, c.r, got, c.want)
		}
		if got.X()+got.Y()+got.Z() != 0 {
			t.Fatalf("rounded cube %s breaks zero sum", got)
		}
	}
	if got := roundCube(math.Sqrt(3)/3, 1.0/3); got.DistanceStep(Cube{}) > 1 {
		t.Fatalf("rounding strayed: %s", got)
	}
}

// Equal rounding deltas correct x before y and y before z.
func TestRoundCube_TiePriority(t *testing.T) {
	cases := []struct {
		name string
		q, r float64
		want Cube
	}{
		// fractional cube (0.5, 0.5, -1): y would give (1, 0, -1).
		{"x over y", 0.5, -1, NewCube(0, -1)},
		// (0.5, -1, 0.5): z would give (1, -1, 0).
		{"x over z", 0.5, 0.5, NewCube(0, 1)},
		// (-1, 0.5, 0.5): z would give (-1, 1, 0).
		{"y over z", -1, 0.5, NewCube(-1, 1)},
	}
	for _, c := range cases {
		got := roundCube(c.q, c.r)
		if got != c.want {
			t.Fatalf("%s: round(%v,%v) = %s, want %s", c.name, c.q, c.r, got, c.want)
		}
	}
}
