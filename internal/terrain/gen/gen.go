// Package gen fills chunk tile buffers with a noise heightfield.
package gen

import (
	"context"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	opensimplex "github.com/ojrac/opensimplex-go"

	"chunkstream.ai/internal/mathx"
	"chunkstream.ai/internal/space"
	"chunkstream.ai/internal/stream"
)

// Block ids written into TileData.Block.
const (
	Air uint16 = iota
	Stone
	Dirt
	Grass
	Sand
	Water
	CoalOre
	IronOre
)

type Params struct {
	Seed int64
	// Scale is the horizontal world-space distance covered by one noise period.
	Scale       float64
	Octaves     int
	Persistence float64
	// MaxHeight is the tallest column in layers, at most the layout height.
	MaxHeight int
	// SeaLevel is the layer below which empty space holds water. Zero disables water.
	SeaLevel int
	// OrePermille is the share of stone tiles replaced by ore.
	OrePermille int
}

func DefaultParams() Params {
	return Params{
		Seed:        1,
		Scale:       64,
		Octaves:     4,
		Persistence: 0.5,
		MaxHeight:   16,
		SeaLevel:    4,
		OrePermille: 12,
	}
}

func (p Params) Validate() error {
	switch {
	case p.Scale <= 0:
		return fmt.Errorf("terrain scale must be > 0, got %v", p.Scale)
	case p.Octaves <= 0:
		return fmt.Errorf("terrain octaves must be > 0, got %d", p.Octaves)
	case p.Persistence <= 0 || p.Persistence > 1:
		return fmt.Errorf("terrain persistence must be in (0,1], got %v", p.Persistence)
	case p.MaxHeight <= 0:
		return fmt.Errorf("terrain max height must be > 0, got %d", p.MaxHeight)
	case p.SeaLevel < 0 || p.SeaLevel > p.MaxHeight:
		return fmt.Errorf("sea level %d outside [0,%d]", p.SeaLevel, p.MaxHeight)
	case p.OrePermille < 0 || p.OrePermille > 1000:
		return fmt.Errorf("ore permille must be in [0,1000], got %d", p.OrePermille)
	}
	return nil
}

// NoiseGenerator is a stream.Generator. The noise source is read-only after
// construction, so one generator serves every worker.
type NoiseGenerator struct {
	layout space.Layout
	params Params
	noise  opensimplex.Noise
}

var _ stream.Generator = (*NoiseGenerator)(nil)

func New(layout space.Layout, params Params) (*NoiseGenerator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.MaxHeight > layout.Height() {
		params.MaxHeight = layout.Height()
		if params.SeaLevel > params.MaxHeight {
			params.SeaLevel = params.MaxHeight
		}
	}
	return &NoiseGenerator{
		layout: layout,
		params: params,
		noise:  opensimplex.NewNormalized(params.Seed),
	}, nil
}

func (g *NoiseGenerator) Params() Params { return g.params }

type column [3]int

func (g *NoiseGenerator) Generate(ctx context.Context, buf stream.TileBuffer) error {
	heights := map[column]int{}
	n := 0
	for t := range buf {
		if n++; n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		col, layer := split(t)
		h, ok := heights[col]
		if !ok {
			h = g.ColumnHeight(g.layout.TileToSpace(t))
			heights[col] = h
		}
		buf[t] = stream.TileData{Block: g.blockAt(col, layer, h)}
	}
	return ctx.Err()
}

// ColumnHeight is the number of solid layers of the column at p, in [1, MaxHeight].
func (g *NoiseGenerator) ColumnHeight(p mgl64.Vec3) int {
	v := octaveNoise(g.noise, p.X(), p.Z(), g.params.Octaves, 1/g.params.Scale, g.params.Persistence)
	h := 1 + int(math.Floor(v*float64(g.params.MaxHeight)))
	if h > g.params.MaxHeight {
		h = g.params.MaxHeight
	}
	if h < 1 {
		h = 1
	}
	return h
}

func (g *NoiseGenerator) blockAt(col column, layer, height int) uint16 {
	top := height - 1
	switch {
	case layer > top:
		if layer < g.params.SeaLevel {
			return Water
		}
		return Air
	case layer == top:
		if top < g.params.SeaLevel+1 {
			return Sand
		}
		return Grass
	case layer >= top-2:
		return Dirt
	}
	roll := mathx.Hash3(g.params.Seed+101, col[0], layer, col[2]) % 1000
	switch {
	case roll < uint64(g.params.OrePermille)/3:
		return IronOre
	case roll < uint64(g.params.OrePermille):
		return CoalOre
	}
	return Stone
}

// split separates a tile id into its horizontal column and its layer.
func split(t space.TileID) (column, int) {
	switch v := t.(type) {
	case space.SquareVoxel:
		return column{v.X, 0, v.Z}, v.Y
	case space.HexVoxel:
		return column{v.Tile.X(), v.Tile.Y(), v.Tile.Z()}, v.H
	default:
		panic(fmt.Sprintf("gen: unsupported tile id %T", t))
	}
}

// octaveNoise layers several frequencies of noise and normalizes to [0,1].
func octaveNoise(noise opensimplex.Noise, x, z float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, z*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}
