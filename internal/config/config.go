package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

var (
	ErrInvalidChunkSize     = errors.New("chunk size must be greater than 0")
	ErrInvalidHighWaterMark = errors.New("high-water mark must be a positive multiple of chunk size")
	ErrInvalidPollInterval  = errors.New("drain poll interval must be greater than 0")
)

// ChunkSize is the fixed size of one binary chunk frame.
const ChunkSize = 64 * 1024

// Config holds all application configuration
type Config struct {
	WebRTC WebRTCConfig `json:"webrtc"`
	Store  StoreConfig  `json:"store"`
}

// WebRTCConfig holds WebRTC-specific configuration
type WebRTCConfig struct {
	ICEServers        []webrtc.ICEServer `json:"ice_servers"`
	ChunkSize         int                `json:"chunk_size"`
	HighWaterMark     uint64             `json:"high_water_mark"`
	DrainPollInterval time.Duration      `json:"drain_poll_interval"`
}

// StoreConfig holds transfer history database configuration
type StoreConfig struct {
	Path string `json:"path"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		WebRTC: WebRTCConfig{
			ICEServers: []webrtc.ICEServer{
				{
					URLs: []string{"stun:stun.l.google.com:19302"},
				},
			},
			ChunkSize:         ChunkSize,
			HighWaterMark:     4 * ChunkSize,
			DrainPollInterval: 20 * time.Millisecond,
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
	}
}

// Load returns the default configuration with any viper overrides applied
func Load(v *viper.Viper) *Config {
	cfg := NewDefaultConfig()

	if v.IsSet("webrtc.ice_servers") {
		urls := v.GetStringSlice("webrtc.ice_servers")
		if len(urls) > 0 {
			cfg.WebRTC.ICEServers = []webrtc.ICEServer{{URLs: urls}}
		}
	}
	if v.IsSet("webrtc.high_water_mark") {
		cfg.WebRTC.HighWaterMark = v.GetUint64("webrtc.high_water_mark")
	}
	if v.IsSet("webrtc.drain_poll_interval") {
		cfg.WebRTC.DrainPollInterval = v.GetDuration("webrtc.drain_poll_interval")
	}
	if v.IsSet("store.path") {
		cfg.Store.Path = v.GetString("store.path")
	}

	return cfg
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.WebRTC.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.WebRTC.HighWaterMark == 0 || c.WebRTC.HighWaterMark%uint64(c.WebRTC.ChunkSize) != 0 {
		return ErrInvalidHighWaterMark
	}
	if c.WebRTC.DrainPollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	return nil
}

// defaultStorePath places the history database under the user config dir.
// An empty path disables transfer history.
func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "peerdrop", "history.db")
}
