package space

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"chunkstream.ai/internal/mathx"
)

// Pointy-top axial <-> planar space transforms (column-major).
var (
	hexToSpace = mgl64.Mat2{math.Sqrt(3), 0, math.Sqrt(3) / 2, 1.5}
	spaceToHex = mgl64.Mat2{math.Sqrt(3) / 3, 0, -1.0 / 3, 2.0 / 3}
)

// tileDirs are the six unit steps between neighboring tiles.
var tileDirs = rotations(NewCube(1, 0))

func rotations(v Cube) [6]Cube {
	var out [6]Cube
	for i := range out {
		out[i] = v
		v = v.Rotate60()
	}
	return out
}

// HexLayout is a hexagonal tiling whose chunks are hexagons of radius R
// tiles. Chunk centers form a lattice spanned by (R+1, R, -2R-1) and its
// rotations. A tile's chunk is found through a lookup table of Period()
// entries keyed by (z*(3R+1) - x) mod Period().
type HexLayout struct {
	radius     int
	period     int
	tileSize   float64
	tileHeight float64
	height     int
	origin     Cube

	// chunkDirs step from a chunk center to its six neighboring centers.
	chunkDirs [6]Cube
	// lookup holds, per key, the offset from a tile to its chunk center.
	lookup []Cube
}

func newHexLayout(g Geometry) *HexLayout {
	r := g.Radius
	l := &HexLayout{
		radius:     r,
		period:     3*r*r + 3*r + 1,
		tileSize:   g.TileSize,
		tileHeight: g.TileHeight,
		height:     g.Height,
		chunkDirs:  rotations(NewCube(r+1, -(2*r + 1))),
	}
	l.origin = l.ChunkAt(g.Origin[0], g.Origin[1]).Center
	l.lookup = buildLookup(l)
	return l
}

func (l *HexLayout) Family() Family      { return FamilyHex }
func (l *HexLayout) Radius() int         { return l.radius }
func (l *HexLayout) TileSize() float64   { return l.tileSize }
func (l *HexLayout) TileHeight() float64 { return l.tileHeight }
func (l *HexLayout) Height() int         { return l.height }

// Period is the number of tiles in one chunk layer, 3R²+3R+1.
func (l *HexLayout) Period() int        { return l.period }
func (l *HexLayout) TilesPerChunk() int { return l.period * l.height }

func (l *HexLayout) key(t Cube) int {
	return mathx.Mod(t.z*(3*l.radius+1)-t.x, l.period)
}

// buildLookup traces half of a chunk hexagon as a walk whose keys run
// 0, 1, ..., (period-1)/2: the apex segment along the x axis, then rows
// alternating below (growing from R+1 tiles) and above (shrinking from 2R
// tiles) the apex. The mirrored walk covers the remaining keys.
func buildLookup(l *HexLayout) []Cube {
	r := l.radius
	half := (l.period - 1) / 2
	walk := make([]Cube, 0, half+1)
	for k := 0; k <= r; k++ {
		walk = append(walk, NewCube(k, 0))
	}
	for m := 0; len(walk) <= half; m++ {
		for i := 0; i <= r+m && len(walk) <= half; i++ {
			walk = append(walk, NewCube(-r+i, r-m))
		}
		for i := 0; i < 2*r-m && len(walk) <= half; i++ {
			walk = append(walk, NewCube(-r+m+1+i, -(m+1)))
		}
	}

	table := make([]Cube, l.period)
	filled := make([]bool, l.period)
	for _, phase := range [2]int{1, -1} {
		for _, d := range walk {
			tile := d.Scale(phase)
			if tile.DistanceStep(Cube{}) > r {
				panic(fmt.Sprintf("space: hex lookup tile %s outside radius %d", tile, r))
			}
			k := l.key(tile)
			if filled[k] && table[k] != tile.Neg() {
				panic(fmt.Sprintf("space: hex lookup key %d assigned twice (radius %d)", k, r))
			}
			table[k] = tile.Neg()
			filled[k] = true
		}
	}
	for k, ok := range filled {
		if !ok {
			panic(fmt.Sprintf("space: hex lookup key %d unfilled (radius %d)", k, r))
		}
	}
	return table
}

// ChunkAt returns the chunk at lattice indices (i, j), i.e. the chunk whose
// center is i steps along (R+1, R, -2R-1) and j steps along its 60° rotation.
func (l *HexLayout) ChunkAt(i, j int) HexChunk {
	return HexChunk{Center: l.chunkDirs[0].Scale(i).Add(l.chunkDirs[1].Scale(j))}
}

// ChunkIndex is the inverse of ChunkAt. It panics if c is not a chunk center.
func (l *HexLayout) ChunkIndex(c HexChunk) (int, int) {
	r := l.radius
	dx, dz := c.Center.x, c.Center.z
	ni := (r+1)*dx - r*dz
	nj := -((2*r+1)*dx + (r+1)*dz)
	if ni%l.period != 0 || nj%l.period != 0 {
		panic(fmt.Sprintf("space: %s is not a chunk center for radius %d", c, r))
	}
	return ni / l.period, nj / l.period
}

func (l *HexLayout) SpaceToTile(p mgl64.Vec3) TileID {
	frac := spaceToHex.Mul2x1(mgl64.Vec2{p.X(), p.Z()}).Mul(1 / l.tileSize)
	return HexVoxel{
		Tile: roundCube(frac.X(), frac.Y()).Add(l.origin),
		H:    mathx.FloorEps(p.Y() / l.tileHeight),
	}
}

// roundCube rounds fractional axial (q, r) to the nearest tile, recomputing
// the component with the largest rounding error from the other two.
func roundCube(q, r float64) Cube {
	fx, fz := q, r
	fy := -fx - fz
	rx, ry, rz := math.Round(fx), math.Round(fy), math.Round(fz)
	dx, dy, dz := math.Abs(rx-fx), math.Abs(ry-fy), math.Abs(rz-fz)
	switch {
	case dx >= dy && dx >= dz:
		rx = -ry - rz
	case dy >= dz:
		// y is derived by NewCube.
	default:
		rz = -rx - ry
	}
	return NewCube(int(rx), int(rz))
}

func (l *HexLayout) SpaceToChunk(p mgl64.Vec3) ChunkID {
	return l.TileToChunk(l.SpaceToTile(p))
}

func (l *HexLayout) TileToSpace(t TileID) mgl64.Vec3 {
	v := l.voxel(t)
	q, r := v.Tile.Sub(l.origin).Axial()
	planar := hexToSpace.Mul2x1(mgl64.Vec2{float64(q), float64(r)}).Mul(l.tileSize)
	return mgl64.Vec3{planar.X(), float64(v.H) * l.tileHeight, planar.Y()}
}

func (l *HexLayout) TileToChunk(t TileID) ChunkID {
	tile := l.voxel(t).Tile
	return HexChunk{Center: tile.Add(l.lookup[l.key(tile)])}
}

func (l *HexLayout) ChunkToSpace(c ChunkID) mgl64.Vec3 {
	return l.TileToSpace(HexVoxel{Tile: l.chunk(c).Center})
}

func (l *HexLayout) ChunkRing(c ChunkID, d int) []ChunkID {
	center := l.chunk(c).Center
	if d <= 0 {
		return nil
	}
	out := make([]ChunkID, 0, 6*d)
	cur := center.Add(l.chunkDirs[4].Scale(d))
	for i := 0; i < 6; i++ {
		for j := 0; j < d; j++ {
			out = append(out, HexChunk{Center: cur})
			cur = cur.Add(l.chunkDirs[i])
		}
	}
	return out
}

func (l *HexLayout) ChunkNeighbors(c ChunkID, d int) []ChunkID {
	if d <= 0 {
		return nil
	}
	out := make([]ChunkID, 0, 3*d*d+3*d)
	for ring := 1; ring <= d; ring++ {
		out = append(out, l.ChunkRing(c, ring)...)
	}
	return out
}

// ChunkDistance counts chunk steps between a and b.
func (l *HexLayout) ChunkDistance(a, b ChunkID) int {
	i, j := l.ChunkIndex(l.chunk(a).Sub(l.chunk(b)))
	return (mathx.AbsInt(i) + mathx.AbsInt(j) + mathx.AbsInt(i+j)) / 2
}

// ChunkTiles spirals outward from the center tile, layer by layer.
func (l *HexLayout) ChunkTiles(c ChunkID) []TileID {
	center := l.chunk(c).Center
	out := make([]TileID, 0, l.TilesPerChunk())
	for h := 0; h < l.height; h++ {
		out = append(out, HexVoxel{Tile: center, H: h})
		for ring := 1; ring <= l.radius; ring++ {
			cur := center.Add(tileDirs[4].Scale(ring))
			for i := 0; i < 6; i++ {
				for j := 0; j < ring; j++ {
					out = append(out, HexVoxel{Tile: cur, H: h})
					cur = cur.Add(tileDirs[i])
				}
			}
		}
	}
	return out
}

func (l *HexLayout) chunk(c ChunkID) HexChunk {
	hc, ok := c.(HexChunk)
	if !ok {
		panic(wrongFamily(FamilyHex, c))
	}
	return hc
}

func (l *HexLayout) voxel(t TileID) HexVoxel {
	v, ok := t.(HexVoxel)
	if !ok {
		panic(wrongFamily(FamilyHex, t))
	}
	return v
}
