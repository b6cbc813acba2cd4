package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64*1024, cfg.WebRTC.ChunkSize)
	assert.Equal(t, uint64(4*64*1024), cfg.WebRTC.HighWaterMark)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.WebRTC.ChunkSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidChunkSize)

	cfg = NewDefaultConfig()
	cfg.WebRTC.HighWaterMark = ChunkSize + 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidHighWaterMark)

	cfg = NewDefaultConfig()
	cfg.WebRTC.DrainPollInterval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPollInterval)
}

func TestLoadAppliesOverrides(t *testing.T) {
	v := viper.New()
	v.Set("webrtc.high_water_mark", 8*ChunkSize)
	v.Set("webrtc.drain_poll_interval", "50ms")
	v.Set("store.path", "/tmp/peerdrop-test.db")

	cfg := Load(v)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(8*ChunkSize), cfg.WebRTC.HighWaterMark)
	assert.Equal(t, 50*time.Millisecond, cfg.WebRTC.DrainPollInterval)
	assert.Equal(t, "/tmp/peerdrop-test.db", cfg.Store.Path)
}
