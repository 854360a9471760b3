package space

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"chunkstream.ai/internal/mathx"
)

// quarterTurns rotate a ring edge onto the four sides of a square ring.
var quarterTurns [4]mgl64.Mat2

func init() {
	for k := range quarterTurns {
		m := mgl64.Rotate2D(float64(k) * math.Pi / 2)
		for i := range m {
			m[i] = math.Round(m[i])
		}
		quarterTurns[k] = m
	}
}

// SquareLayout is a square grid of cubic voxels. A chunk spans 2R+1 voxels
// along X and Z and Height layers along Y.
type SquareLayout struct {
	radius     int
	full       int
	tileSize   float64
	tileHeight float64
	height     int
	origin     SquareChunk
}

func newSquareLayout(g Geometry) *SquareLayout {
	return &SquareLayout{
		radius:     g.Radius,
		full:       2*g.Radius + 1,
		tileSize:   g.TileSize,
		tileHeight: g.TileHeight,
		height:     g.Height,
		origin:     SquareChunk{X: g.Origin[0], Z: g.Origin[1]},
	}
}

func (l *SquareLayout) Family() Family      { return FamilySquare }
func (l *SquareLayout) Radius() int         { return l.radius }
func (l *SquareLayout) TileSize() float64   { return l.tileSize }
func (l *SquareLayout) TileHeight() float64 { return l.tileHeight }
func (l *SquareLayout) Height() int         { return l.height }
func (l *SquareLayout) TilesPerChunk() int  { return l.full * l.full * l.height }

// FullLength is the chunk edge length in voxels.
func (l *SquareLayout) FullLength() int { return l.full }

// CenterVoxel is the voxel at the chunk center on layer 0.
func (l *SquareLayout) CenterVoxel(c SquareChunk) SquareVoxel {
	return SquareVoxel{X: c.X * l.full, Z: c.Z * l.full}
}

func (l *SquareLayout) SpaceToTile(p mgl64.Vec3) TileID {
	o := l.CenterVoxel(l.origin)
	return SquareVoxel{
		X: mathx.FloorEps(p.X()/l.tileSize) + o.X,
		Y: mathx.FloorEps(p.Y() / l.tileHeight),
		Z: mathx.FloorEps(p.Z()/l.tileSize) + o.Z,
	}
}

func (l *SquareLayout) SpaceToChunk(p mgl64.Vec3) ChunkID {
	return l.TileToChunk(l.SpaceToTile(p))
}

func (l *SquareLayout) TileToSpace(t TileID) mgl64.Vec3 {
	v := l.voxel(t).Sub(l.CenterVoxel(l.origin))
	return mgl64.Vec3{
		float64(v.X) * l.tileSize,
		float64(v.Y) * l.tileHeight,
		float64(v.Z) * l.tileSize,
	}
}

func (l *SquareLayout) TileToChunk(t TileID) ChunkID {
	v := l.voxel(t)
	return SquareChunk{
		X: mathx.FloorDiv(v.X+l.radius, l.full),
		Z: mathx.FloorDiv(v.Z+l.radius, l.full),
	}
}

func (l *SquareLayout) ChunkToSpace(c ChunkID) mgl64.Vec3 {
	return l.TileToSpace(l.CenterVoxel(l.chunk(c)))
}

// ChunkRing walks one edge of the ring and rotates it onto the other three.
func (l *SquareLayout) ChunkRing(c ChunkID, d int) []ChunkID {
	center := l.chunk(c)
	if d <= 0 {
		return nil
	}
	out := make([]ChunkID, 0, 8*d)
	for _, rot := range quarterTurns {
		for o := 0; o < 2*d; o++ {
			edge := mgl64.Vec2{float64(-d + o), float64(-d)}
			r := rot.Mul2x1(edge)
			out = append(out, center.Add(SquareChunk{
				X: int(math.Round(r.X())),
				Z: int(math.Round(r.Y())),
			}))
		}
	}
	return out
}

func (l *SquareLayout) ChunkNeighbors(c ChunkID, d int) []ChunkID {
	if d <= 0 {
		return nil
	}
	n := 2*d + 1
	out := make([]ChunkID, 0, n*n-1)
	for ring := 1; ring <= d; ring++ {
		out = append(out, l.ChunkRing(c, ring)...)
	}
	return out
}

// ChunkDistance is the Chebyshev distance in chunk units.
func (l *SquareLayout) ChunkDistance(a, b ChunkID) int {
	d := l.chunk(a).Sub(l.chunk(b))
	return max(mathx.AbsInt(d.X), mathx.AbsInt(d.Z))
}

func (l *SquareLayout) ChunkTiles(c ChunkID) []TileID {
	center := l.CenterVoxel(l.chunk(c))
	out := make([]TileID, 0, l.TilesPerChunk())
	for y := 0; y < l.height; y++ {
		for z := -l.radius; z <= l.radius; z++ {
			for x := -l.radius; x <= l.radius; x++ {
				out = append(out, SquareVoxel{X: center.X + x, Y: y, Z: center.Z + z})
			}
		}
	}
	return out
}

func (l *SquareLayout) chunk(c ChunkID) SquareChunk {
	sc, ok := c.(SquareChunk)
	if !ok {
		panic(wrongFamily(FamilySquare, c))
	}
	return sc
}

func (l *SquareLayout) voxel(t TileID) SquareVoxel {
	v, ok := t.(SquareVoxel)
	if !ok {
		panic(wrongFamily(FamilySquare, t))
	}
	return v
}
