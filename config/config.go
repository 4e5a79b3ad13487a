package config

import (
	"time"
)

type Config struct {
	// Node configuration
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`

	// P2P network configuration
	P2P P2PConfig `json:"p2p"`

	// Local gateway configuration
	API APIConfig `json:"api"`
}

type P2PConfig struct {
	ListenPort     int      `json:"listen_port"`
	BootstrapPeers []string `json:"bootstrap_peers"`
	MaxPeers       int      `json:"max_peers"`

	// A connection that accumulates more than this many bytes without
	// completing a JSON value is closed with a framing error.
	MaxFrameSize int `json:"max_frame_size"`

	// Outbound queue depth per peer connection.
	SendQueueSize int `json:"send_queue_size"`

	// Bootstrap reconnection policy.
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `json:"max_reconnect_delay"`

	// Dedup ledger bounds.
	DedupSize   int           `json:"dedup_size"`
	DedupWindow time.Duration `json:"dedup_window"`
}

type APIConfig struct {
	HTTPAddr      string        `json:"http_addr"`
	WebSocketAddr string        `json:"websocket_addr"`
	EnableCORS    bool          `json:"enable_cors"`
	QueryTimeout  time.Duration `json:"query_timeout"`
}

// Load returns a default configuration
// TODO: Add file-based configuration loading
func Load() (*Config, error) {
	return &Config{
		DataDir:  "./data",
		LogLevel: "info",
		P2P: P2PConfig{
			ListenPort:        9828,
			BootstrapPeers:    []string{}, // Add bootstrap peers later
			MaxPeers:          50,
			MaxFrameSize:      1 << 20, // 1MB
			SendQueueSize:     256,
			ReconnectDelay:    10 * time.Second,
			MaxReconnectDelay: 2 * time.Minute,
			DedupSize:         8192,
			DedupWindow:       10 * time.Minute,
		},
		API: APIConfig{
			HTTPAddr:      ":8081",
			WebSocketAddr: ":9000",
			EnableCORS:    true,
			QueryTimeout:  5 * time.Second,
		},
	}, nil
}
