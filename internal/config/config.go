// Package config loads the streaming engine configuration from YAML or TOML.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"chunkstream.ai/internal/space"
	"chunkstream.ai/internal/stream"
	"chunkstream.ai/internal/terrain/gen"
)

var ErrInvalidConfig = errors.New("invalid config")

//go:embed config.schema.json
var schemaJSON string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("config.schema.json", schemaJSON)
})

type Config struct {
	Layout    LayoutConfig    `yaml:"layout" toml:"layout"`
	Streaming StreamingConfig `yaml:"streaming" toml:"streaming"`
	Terrain   TerrainConfig   `yaml:"terrain" toml:"terrain"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Trace     TraceConfig     `yaml:"trace" toml:"trace"`
	Observer  ObserverConfig  `yaml:"observer" toml:"observer"`
}

type LayoutConfig struct {
	Family     string  `yaml:"family" toml:"family"`
	Radius     int     `yaml:"radius" toml:"radius"`
	TileSize   float64 `yaml:"tile_size" toml:"tile_size"`
	TileHeight float64 `yaml:"tile_height" toml:"tile_height"`
	Height     int     `yaml:"height" toml:"height"`
	Origin     []int   `yaml:"origin" toml:"origin"`
}

type StreamingConfig struct {
	TickRateHz         int           `yaml:"tick_rate_hz" toml:"tick_rate_hz"`
	StreamRadius       int           `yaml:"stream_radius" toml:"stream_radius"`
	MinDespawnDistance int           `yaml:"min_despawn_distance" toml:"min_despawn_distance"`
	DespawnInterval    time.Duration `yaml:"despawn_interval" toml:"despawn_interval"`
	MaxDispatchPerTick int           `yaml:"max_dispatch_per_tick" toml:"max_dispatch_per_tick"`
	DispatchRate       float64       `yaml:"dispatch_rate" toml:"dispatch_rate"`
	DispatchBurst      int           `yaml:"dispatch_burst" toml:"dispatch_burst"`
	Workers            int           `yaml:"workers" toml:"workers"`
	QueueSize          int           `yaml:"queue_size" toml:"queue_size"`
}

type TerrainConfig struct {
	Seed        int64   `yaml:"seed" toml:"seed"`
	Scale       float64 `yaml:"scale" toml:"scale"`
	Octaves     int     `yaml:"octaves" toml:"octaves"`
	Persistence float64 `yaml:"persistence" toml:"persistence"`
	MaxHeight   int     `yaml:"max_height" toml:"max_height"`
	SeaLevel    int     `yaml:"sea_level" toml:"sea_level"`
	OrePermille int     `yaml:"ore_permille" toml:"ore_permille"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // console or json
}

type TraceConfig struct {
	// Dir receives hourly tick logs. Empty disables tracing.
	Dir string `yaml:"dir" toml:"dir"`
}

type ObserverConfig struct {
	// Listen is the observer HTTP address. Empty disables the observer.
	Listen string `yaml:"listen" toml:"listen"`
}

// Load reads path, picking the decoder from its extension (.toml, otherwise
// YAML). An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := decode(path, b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	isTOML := strings.EqualFold(filepath.Ext(path), ".toml")

	var raw map[string]any
	if isTOML {
		if err := toml.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	if err := checkSchema(raw); err != nil {
		return err
	}

	if isTOML {
		return toml.Unmarshal(b, cfg)
	}
	return yaml.Unmarshal(b, cfg)
}

// checkSchema validates the document as written, before defaults apply.
func checkSchema(raw map[string]any) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	// The validator expects encoding/json value types.
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func defaults() Config {
	tp := gen.DefaultParams()
	return Config{
		Layout: LayoutConfig{
			Family:   string(space.FamilyHex),
			Radius:   8,
			TileSize: 1,
			Height:   16,
		},
		Streaming: StreamingConfig{
			TickRateHz:         10,
			StreamRadius:       2,
			MinDespawnDistance: 3,
			DespawnInterval:    2 * time.Second,
			MaxDispatchPerTick: 16,
		},
		Terrain: TerrainConfig{
			Seed:        tp.Seed,
			Scale:       tp.Scale,
			Octaves:     tp.Octaves,
			Persistence: tp.Persistence,
			MaxHeight:   tp.MaxHeight,
			SeaLevel:    tp.SeaLevel,
			OrePermille: tp.OrePermille,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Normalize canonicalizes spelling and fills derived values.
func (c *Config) Normalize() {
	c.Layout.Family = strings.ToLower(strings.TrimSpace(c.Layout.Family))
	if len(c.Layout.Origin) == 0 {
		c.Layout.Origin = []int{0, 0}
	}
	if c.Layout.TileHeight == 0 {
		c.Layout.TileHeight = c.Layout.TileSize
	}
	if c.Layout.Height == 0 {
		c.Layout.Height = 1
	}
	if c.Streaming.Workers <= 0 {
		c.Streaming.Workers = runtime.NumCPU()
	}
	if c.Streaming.QueueSize <= 0 {
		c.Streaming.QueueSize = c.Streaming.Workers * 8
	}
	if c.Streaming.DispatchRate > 0 && c.Streaming.DispatchBurst == 0 {
		c.Streaming.DispatchBurst = 1
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Trace.Dir = strings.TrimSpace(c.Trace.Dir)
	c.Observer.Listen = strings.TrimSpace(c.Observer.Listen)
}

func (c Config) Validate() error {
	if len(c.Layout.Origin) != 2 {
		return fmt.Errorf("%w: layout origin needs 2 components, got %d", ErrInvalidConfig, len(c.Layout.Origin))
	}
	if _, err := space.New(c.Geometry()); err != nil {
		return fmt.Errorf("%w: layout: %w", ErrInvalidConfig, err)
	}
	if c.Streaming.TickRateHz <= 0 {
		return fmt.Errorf("%w: tick rate must be > 0", ErrInvalidConfig)
	}
	if err := c.StreamConfig().Validate(); err != nil {
		return fmt.Errorf("%w: streaming: %w", ErrInvalidConfig, err)
	}
	if err := c.TerrainParams().Validate(); err != nil {
		return fmt.Errorf("%w: terrain: %w", ErrInvalidConfig, err)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

func (c Config) Geometry() space.Geometry {
	g := space.Geometry{
		Family:     space.Family(c.Layout.Family),
		Radius:     c.Layout.Radius,
		TileSize:   c.Layout.TileSize,
		TileHeight: c.Layout.TileHeight,
		Height:     c.Layout.Height,
	}
	copy(g.Origin[:], c.Layout.Origin)
	return g
}

func (c Config) NewLayout() (space.Layout, error) { return space.New(c.Geometry()) }

func (c Config) StreamConfig() stream.Config {
	s := c.Streaming
	return stream.Config{
		StreamRadius:       s.StreamRadius,
		MinDespawnDistance: s.MinDespawnDistance,
		DespawnInterval:    s.DespawnInterval,
		MaxDispatchPerTick: s.MaxDispatchPerTick,
		DispatchRate:       s.DispatchRate,
		DispatchBurst:      s.DispatchBurst,
	}
}

func (c Config) TerrainParams() gen.Params {
	t := c.Terrain
	return gen.Params{
		Seed:        t.Seed,
		Scale:       t.Scale,
		Octaves:     t.Octaves,
		Persistence: t.Persistence,
		MaxHeight:   t.MaxHeight,
		SeaLevel:    t.SeaLevel,
		OrePermille: t.OrePermille,
	}
}
