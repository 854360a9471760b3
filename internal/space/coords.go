package space

import (
	"fmt"

	"chunkstream.ai/internal/mathx"
)

// ChunkID identifies one chunk. Implementations are comparable values and
// can be used directly as map keys.
type ChunkID interface {
	String() string
	Coords() []int
	chunkID()
}

// TileID identifies one tile or voxel inside a chunk.
type TileID interface {
	String() string
	Coords() []int
	tileID()
}

// LessChunk orders chunk ids by their coordinates. Used for deterministic
// enumeration of id sets.
func LessChunk(a, b ChunkID) bool { return lessCoords(a.Coords(), b.Coords()) }

func LessTile(a, b TileID) bool { return lessCoords(a.Coords(), b.Coords()) }

func lessCoords(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// SquareChunk is a chunk of the square grid, indexed on the horizontal plane.
type SquareChunk struct {
	X int
	Z int
}

func (c SquareChunk) Add(o SquareChunk) SquareChunk { return SquareChunk{X: c.X + o.X, Z: c.Z + o.Z} }
func (c SquareChunk) Sub(o SquareChunk) SquareChunk { return SquareChunk{X: c.X - o.X, Z: c.Z - o.Z} }
func (c SquareChunk) String() string                { return fmt.Sprintf("sq(%d,%d)", c.X, c.Z) }
func (c SquareChunk) Coords() []int                 { return []int{c.X, c.Z} }
func (SquareChunk) chunkID()                        {}

// SquareVoxel is a voxel of the square grid. Y is vertical.
type SquareVoxel struct {
	X int
	Y int
	Z int
}

func (v SquareVoxel) Add(o SquareVoxel) SquareVoxel {
	return SquareVoxel{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v SquareVoxel) Sub(o SquareVoxel) SquareVoxel {
	return SquareVoxel{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v SquareVoxel) String() string { return fmt.Sprintf("sv(%d,%d,%d)", v.X, v.Y, v.Z) }
func (v SquareVoxel) Coords() []int  { return []int{v.X, v.Y, v.Z} }
func (SquareVoxel) tileID()          {}

// Cube is a hex cube coordinate. The components always sum to zero: the
// fields are unexported and every constructor and operation derives y from
// x and z.
type Cube struct {
	x int
	y int
	z int
}

func NewCube(x, z int) Cube { return Cube{x: x, y: -x - z, z: z} }

// CubeFromAxial maps axial (q, r) to cube (q, -q-r, r).
func CubeFromAxial(q, r int) Cube { return NewCube(q, r) }

func (c Cube) X() int { return c.x }
func (c Cube) Y() int { return c.y }
func (c Cube) Z() int { return c.z }

func (c Cube) Add(o Cube) Cube   { return NewCube(c.x+o.x, c.z+o.z) }
func (c Cube) Sub(o Cube) Cube   { return NewCube(c.x-o.x, c.z-o.z) }
func (c Cube) Scale(k int) Cube  { return NewCube(c.x*k, c.z*k) }
func (c Cube) Neg() Cube         { return NewCube(-c.x, -c.z) }
func (c Cube) String() string    { return fmt.Sprintf("<%d,%d,%d>", c.x, c.y, c.z) }
func (c Cube) Axial() (int, int) { return c.x, c.z }

// Rotate60 rotates the coordinate by one sixth of a turn around the origin.
func (c Cube) Rotate60() Cube { return NewCube(-c.y, -c.x) }

// DistanceStep is the number of single-tile steps between two cube coordinates.
func (c Cube) DistanceStep(o Cube) int {
	d := c.Sub(o)
	return (mathx.AbsInt(d.x) + mathx.AbsInt(d.y) + mathx.AbsInt(d.z)) / 2
}

// HexChunk is a chunk of the hex grid, named by the cube coordinate of its
// center tile.
type HexChunk struct {
	Center Cube
}

func (c HexChunk) Add(o HexChunk) HexChunk { return HexChunk{Center: c.Center.Add(o.Center)} }
func (c HexChunk) Sub(o HexChunk) HexChunk { return HexChunk{Center: c.Center.Sub(o.Center)} }
func (c HexChunk) String() string          { return "hc" + c.Center.String() }
func (c HexChunk) Coords() []int           { return []int{c.Center.x, c.Center.y, c.Center.z} }
func (HexChunk) chunkID()                  {}

// HexVoxel is a hex tile plus a discrete height layer.
type HexVoxel struct {
	Tile Cube
	H    int
}

func (v HexVoxel) Add(o HexVoxel) HexVoxel { return HexVoxel{Tile: v.Tile.Add(o.Tile), H: v.H + o.H} }
func (v HexVoxel) Sub(o HexVoxel) HexVoxel { return HexVoxel{Tile: v.Tile.Sub(o.Tile), H: v.H - o.H} }
func (v HexVoxel) String() string          { return fmt.Sprintf("hv%s@%d", v.Tile, v.H) }
func (v HexVoxel) Coords() []int           { return []int{v.Tile.x, v.Tile.y, v.Tile.z, v.H} }
func (HexVoxel) tileID()                   {}
