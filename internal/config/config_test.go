package config

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 2.0, cfg.Engine.MinHoldDuration)
	assert.Equal(t, 20, cfg.Engine.PriorityChangeThreshold)
	assert.Equal(t, 70, cfg.Engine.MinPriorityToFocus)
	assert.Equal(t, 20, cfg.Engine.AudioBoostFactor)
	assert.Equal(t, 10, cfg.Engine.KeywordMatchBoost)
	assert.False(t, cfg.Detector.EnableObjects)
	assert.Equal(t, "layered", cfg.Detector.Variant)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reframe.yaml")
	content := []byte(`
workers: 3
engine:
  min_hold_duration: 1.5
cropper:
  interpolate: true
platforms:
  story:
    width: 720
    height: 1280
`)
	require.NoError(t, os.WriteFile(path, content, 0644))
	t.Setenv("REFRAME_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 1.5, cfg.Engine.MinHoldDuration)
	assert.Equal(t, 20, cfg.Engine.PriorityChangeThreshold, "unset keys keep defaults")
	assert.True(t, cfg.Cropper.Interpolate)
	assert.Equal(t, "debug", cfg.LogLevel)

	size, err := cfg.PlatformTable().Lookup("story")
	require.NoError(t, err)
	assert.Equal(t, image.Pt(720, 1280), size)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Workers = 5

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Workers)
	assert.Equal(t, cfg.Camera, loaded.Camera)
}

func TestPlatformLookup(t *testing.T) {
	p := Default().PlatformTable()

	tests := []struct {
		name    string
		want    image.Point
		wantErr bool
	}{
		{"9:16", image.Pt(1080, 1920), false},
		{"TikTok", image.Pt(1080, 1920), false},
		{"1:1", image.Pt(1080, 1080), false},
		{"720x1280", image.Pt(720, 1280), false},
		{"vhs", image.Point{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Lookup(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownPlatform)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Contains(t, p.Names(), "square")
}
