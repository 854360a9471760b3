package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"chunkstream.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trip through encoding/json so the validator sees plain JSON values.
	asJSON := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(asJSON(v)); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	validate(compile("hello.schema.json"), protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Pos:             [3]float64{1, 0, -2},
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	})
	validate(compile("welcome.schema.json"), protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SiteID:          "S1",
		Tick:            12,
		Layout:          protocol.LayoutParams{Family: "hex", Radius: 4, TileSize: 1, TileHeight: 1, Height: 8},
		StreamRadius:    2,
		MovesPerSecond:  20,
	})
	validate(compile("move.schema.json"), protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		Pos:             [3]float64{3.5, 0, 9},
	})
	validate(compile("chunk.schema.json"), protocol.ChunkMsg{
		Type:            protocol.TypeChunk,
		ProtocolVersion: protocol.Version,
		Tick:            3,
		SiteID:          "S1",
		Chunk:           []int{5, -10, 5},
		Loaded:          19,
	})

	var bad any
	_ = json.Unmarshal([]byte(`{"type":"MOVE","protocol_version":"1.0","pos":[1,2]}`), &bad)
	if err := compile("move.schema.json").Validate(bad); err == nil {
		t.Fatalf("expected short position rejected")
	}
}
