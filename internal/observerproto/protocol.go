package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// MaxTransitions caps the transitions forwarded per tick. Extra entries are
	// dropped and counted in TickMsg.Dropped.
	MaxTransitions int `json:"max_transitions"`
	// Sites drops site states from tick messages when false.
	Sites bool `json:"sites"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	Layout          LayoutParams `json:"layout"`
	TickRateHz      int          `json:"tick_rate_hz"`
	StreamRadius    int          `json:"stream_radius"`
}

type LayoutParams struct {
	Family        string  `json:"family"`
	Radius        int     `json:"radius"`
	TileSize      float64 `json:"tile_size"`
	TileHeight    float64 `json:"tile_height"`
	Height        int     `json:"height"`
	TilesPerChunk int     `json:"tiles_per_chunk"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	// DtNanos is the simulated time the tick advanced by.
	DtNanos int64 `json:"dt_ns,omitempty"`

	Loaded int            `json:"loaded"`
	Stages map[string]int `json:"stages,omitempty"`

	Sites       []SiteState      `json:"sites,omitempty"`
	Joins       []string         `json:"joins,omitempty"`
	Leaves      []string         `json:"leaves,omitempty"`
	Transitions []TransitionInfo `json:"transitions,omitempty"`
	Dropped     int              `json:"dropped,omitempty"`
}

type SiteState struct {
	ID    string     `json:"id"`
	Pos   [3]float64 `json:"pos"`
	Chunk []int      `json:"chunk,omitempty"`
}

type TransitionInfo struct {
	Chunk    []int      `json:"chunk"`
	From     string     `json:"from"`
	To       string     `json:"to"`
	Origin   [3]float64 `json:"origin"`
	Distance int        `json:"distance"`
}
