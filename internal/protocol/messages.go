package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// SiteID reclaims a site name; empty asks the server for a fresh one.
	SiteID       string            `json:"site_id,omitempty"`
	Pos          [3]float64        `json:"pos"`
	Capabilities HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SiteID          string       `json:"site_id"`
	Tick            uint64       `json:"tick"`
	Layout          LayoutParams `json:"layout"`
	StreamRadius    int          `json:"stream_radius"`
	// MovesPerSecond is the accepted MOVE rate; faster updates are rejected.
	MovesPerSecond float64 `json:"moves_per_second"`
}

type LayoutParams struct {
	Family     string  `json:"family"`
	Radius     int     `json:"radius"`
	TileSize   float64 `json:"tile_size"`
	TileHeight float64 `json:"tile_height"`
	Height     int     `json:"height"`
}

// MOVE (client -> server)
type MoveMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

// CHUNK (server -> client), sent when the site's loaded chunk changes.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	SiteID          string `json:"site_id"`
	Chunk           []int  `json:"chunk"`
	Loaded          int    `json:"loaded"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
