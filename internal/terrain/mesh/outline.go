package mesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"chunkstream.ai/internal/space"
	"chunkstream.ai/internal/stream"
)

// Outline is a closed line loop around a chunk, relative to its center.
type Outline struct {
	Corners []mgl64.Vec3
	// Lines holds corner index pairs.
	Lines []uint32
}

// OutlineProvider is a stream.PlaceholderProvider. Every loading chunk
// shares the one outline built at construction.
type OutlineProvider struct {
	outline *Outline
}

var _ stream.PlaceholderProvider = (*OutlineProvider)(nil)

func NewOutlineProvider(layout space.Layout) *OutlineProvider {
	var o *Outline
	switch layout.Family() {
	case space.FamilyHex:
		o = hexOutline(float64(2*layout.Radius()+1) * layout.TileSize())
	default:
		o = squareOutline(float64(2*layout.Radius()+1) * layout.TileSize())
	}
	return &OutlineProvider{outline: o}
}

func (p *OutlineProvider) PlaceholderGeometry() stream.MeshDescriptor { return p.outline }

// hexOutline places six corners at distance size from the center, starting
// on -X and turning about +Y.
func hexOutline(size float64) *Outline {
	up := mgl64.Vec3{0, 1, 0}
	start := mgl64.Vec3{0, 0, 1}.Cross(up)
	o := &Outline{}
	for i := 0; i < 6; i++ {
		q := mgl64.QuatRotate(float64(i)*math.Pi/3, up)
		o.Corners = append(o.Corners, q.Rotate(start).Mul(size))
	}
	o.Lines = loop(len(o.Corners))
	return o
}

func squareOutline(side float64) *Outline {
	h := side / 2
	return &Outline{
		Corners: []mgl64.Vec3{{-h, 0, -h}, {h, 0, -h}, {h, 0, h}, {-h, 0, h}},
		Lines:   loop(4),
	}
}

func loop(n int) []uint32 {
	out := make([]uint32, 0, 2*n)
	for i := 0; i < n; i++ {
		out = append(out, uint32(i), uint32((i+1)%n))
	}
	return out
}
