package space

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrInvalidGeometry is returned when a layout is built from non-positive
// radius, tile size or height.
var ErrInvalidGeometry = errors.New("invalid layout geometry")

type Family string

const (
	FamilySquare Family = "square"
	FamilyHex    Family = "hex"
)

// Geometry parameterizes a layout.
type Geometry struct {
	Family Family

	// Radius is the number of tiles from a chunk's center tile to its edge.
	Radius int
	// TileSize is the world-space size of one tile.
	TileSize float64
	// TileHeight is the world-space height of one voxel layer. Zero means TileSize.
	TileHeight float64
	// Height is the number of voxel layers in a chunk. Zero means 1.
	Height int
	// Origin is the chunk whose center maps to space (0,0,0). Square layouts
	// read it as (X, Z). Hex layouts read it as chunk lattice indices (i, j),
	// see HexLayout.ChunkAt.
	Origin [2]int
}

// Layout maps between continuous space, tiles and chunks for one coordinate
// family. Implementations are immutable after construction and safe for
// concurrent use.
//
// Methods taking ids panic when handed an id of another family.
type Layout interface {
	Family() Family
	Radius() int
	TileSize() float64
	TileHeight() float64
	Height() int

	SpaceToTile(p mgl64.Vec3) TileID
	SpaceToChunk(p mgl64.Vec3) ChunkID
	TileToSpace(t TileID) mgl64.Vec3
	TileToChunk(t TileID) ChunkID
	ChunkToSpace(c ChunkID) mgl64.Vec3

	// ChunkNeighbors returns every chunk at ring distance 1..d from c.
	ChunkNeighbors(c ChunkID, d int) []ChunkID
	// ChunkRing returns the chunks at exactly ring distance d from c.
	ChunkRing(c ChunkID, d int) []ChunkID
	ChunkDistance(a, b ChunkID) int

	// ChunkTiles lists every tile of c, all layers.
	ChunkTiles(c ChunkID) []TileID
	TilesPerChunk() int
}

// New builds the layout for g.Family.
func New(g Geometry) (Layout, error) {
	if err := g.normalize(); err != nil {
		return nil, err
	}
	switch g.Family {
	case FamilySquare:
		return newSquareLayout(g), nil
	case FamilyHex:
		return newHexLayout(g), nil
	default:
		return nil, fmt.Errorf("%w: unknown family %q", ErrInvalidGeometry, g.Family)
	}
}

func (g *Geometry) normalize() error {
	if g.Radius <= 0 {
		return fmt.Errorf("%w: radius must be > 0, got %d", ErrInvalidGeometry, g.Radius)
	}
	if g.TileSize <= 0 {
		return fmt.Errorf("%w: tile size must be > 0, got %v", ErrInvalidGeometry, g.TileSize)
	}
	if g.TileHeight < 0 {
		return fmt.Errorf("%w: tile height must be >= 0, got %v", ErrInvalidGeometry, g.TileHeight)
	}
	if g.Height < 0 {
		return fmt.Errorf("%w: height must be >= 0, got %d", ErrInvalidGeometry, g.Height)
	}
	if g.TileHeight == 0 {
		g.TileHeight = g.TileSize
	}
	if g.Height == 0 {
		g.Height = 1
	}
	return nil
}

func wrongFamily(want Family, id any) string {
	return fmt.Sprintf("space: %s layout got %T", want, id)
}
