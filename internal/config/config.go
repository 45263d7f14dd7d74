package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	Workers   int             `yaml:"workers" mapstructure:"workers"`
	LogLevel  string          `yaml:"log_level" mapstructure:"log_level"`
	Platform  string          `yaml:"platform" mapstructure:"platform"`
	Platforms map[string]Size `yaml:"platforms" mapstructure:"platforms"`
	Detector  DetectorConfig  `yaml:"detector" mapstructure:"detector"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Camera    CameraConfig    `yaml:"camera" mapstructure:"camera"`
	Cropper   CropperConfig   `yaml:"cropper" mapstructure:"cropper"`
	Tracking  TrackingConfig  `yaml:"tracking" mapstructure:"tracking"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg" mapstructure:"ffmpeg"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
}

// Size is a pixel width/height pair as it appears in config files.
type Size struct {
	Width  int `yaml:"width" mapstructure:"width"`
	Height int `yaml:"height" mapstructure:"height"`
}

type DetectorConfig struct {
	Variant           string  `yaml:"variant" mapstructure:"variant"`
	FaceBackend       string  `yaml:"face_backend" mapstructure:"face_backend"`
	FaceCascade       string  `yaml:"face_cascade" mapstructure:"face_cascade"`
	PupilCascade      string  `yaml:"pupil_cascade" mapstructure:"pupil_cascade"`
	FaceScaleFactor   float64 `yaml:"face_scale_factor" mapstructure:"face_scale_factor"`
	FaceMinNeighbors  int     `yaml:"face_min_neighbors" mapstructure:"face_min_neighbors"`
	FaceMinSize       int     `yaml:"face_min_size" mapstructure:"face_min_size"`
	EnableText        bool    `yaml:"enable_text" mapstructure:"enable_text"`
	TesseractPath     string  `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	TextMergeDistance int     `yaml:"text_merge_distance" mapstructure:"text_merge_distance"`
	EnableMotion      bool    `yaml:"enable_motion" mapstructure:"enable_motion"`
	FlowBlock         int     `yaml:"flow_block" mapstructure:"flow_block"`
	FlowSearch        int     `yaml:"flow_search" mapstructure:"flow_search"`
	EnableObjects     bool    `yaml:"enable_objects" mapstructure:"enable_objects"`
	EdgeThreshold     float64 `yaml:"edge_threshold" mapstructure:"edge_threshold"`
}

type EngineConfig struct {
	MinHoldDuration         float64 `yaml:"min_hold_duration" mapstructure:"min_hold_duration"`
	PriorityChangeThreshold int     `yaml:"priority_change_threshold" mapstructure:"priority_change_threshold"`
	MinPriorityToFocus      int     `yaml:"min_priority_to_focus" mapstructure:"min_priority_to_focus"`
	AudioBoostFactor        int     `yaml:"audio_boost_factor" mapstructure:"audio_boost_factor"`
	KeywordMatchBoost       int     `yaml:"keyword_match_boost" mapstructure:"keyword_match_boost"`
	MentionBoost            int     `yaml:"mention_boost" mapstructure:"mention_boost"`
	NoveltyBoost            int     `yaml:"novelty_boost" mapstructure:"novelty_boost"`
	NoveltyRadius           float64 `yaml:"novelty_radius" mapstructure:"novelty_radius"`
	NoveltyWindow           int     `yaml:"novelty_window" mapstructure:"novelty_window"`
	RecencyPenalty          int     `yaml:"recency_penalty" mapstructure:"recency_penalty"`
	RecencyWindow           float64 `yaml:"recency_window" mapstructure:"recency_window"`
	StayBonus               int     `yaml:"stay_bonus" mapstructure:"stay_bonus"`
	FocusHistory            int     `yaml:"focus_history" mapstructure:"focus_history"`
	DetectionHistory        int     `yaml:"detection_history" mapstructure:"detection_history"`
}

type CameraConfig struct {
	MaxPanSpeed      float64 `yaml:"max_pan_speed" mapstructure:"max_pan_speed"`
	MaxZoomSpeed     float64 `yaml:"max_zoom_speed" mapstructure:"max_zoom_speed"`
	MinZoom          float64 `yaml:"min_zoom" mapstructure:"min_zoom"`
	MaxZoom          float64 `yaml:"max_zoom" mapstructure:"max_zoom"`
	PanThreshold     float64 `yaml:"pan_threshold" mapstructure:"pan_threshold"`
	ZoomThreshold    float64 `yaml:"zoom_threshold" mapstructure:"zoom_threshold"`
	SamplesPerSecond float64 `yaml:"samples_per_second" mapstructure:"samples_per_second"`
	MinTransition    float64 `yaml:"min_transition" mapstructure:"min_transition"`
	MaxTransition    float64 `yaml:"max_transition" mapstructure:"max_transition"`
}

type CropperConfig struct {
	AnalysisWidth int     `yaml:"analysis_width" mapstructure:"analysis_width"`
	RetryStep     float64 `yaml:"retry_step" mapstructure:"retry_step"`
	Interpolate   bool    `yaml:"interpolate" mapstructure:"interpolate"`
}

type TrackingConfig struct {
	AnalysisFPS   float64 `yaml:"analysis_fps" mapstructure:"analysis_fps"`
	AnalysisWidth int     `yaml:"analysis_width" mapstructure:"analysis_width"`
}

type FFmpegConfig struct {
	Binary  string `yaml:"binary" mapstructure:"binary"`
	Probe   string `yaml:"probe" mapstructure:"probe"`
	Encoder string `yaml:"encoder" mapstructure:"encoder"`
	Quality int    `yaml:"quality" mapstructure:"quality"`
}

type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ClipParams describes one output clip for filter generation
type ClipParams struct {
	Width, Height int
	FPS           float64
	Duration      float64
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workers:   0,
		LogLevel:  "info",
		Platform:  "9:16",
		Platforms: defaultPlatforms(),
		Detector: DetectorConfig{
			Variant:           "layered",
			FaceBackend:       "pigo",
			FaceCascade:       "./models/facefinder",
			PupilCascade:      "./models/puploc",
			FaceScaleFactor:   1.1,
			FaceMinNeighbors:  5,
			FaceMinSize:       30,
			EnableText:        true,
			TesseractPath:     "tesseract",
			TextMergeDistance: 50,
			EnableMotion:      true,
			FlowBlock:         8,
			FlowSearch:        8,
			EnableObjects:     false,
			EdgeThreshold:     60,
		},
		Engine: EngineConfig{
			MinHoldDuration:         2.0,
			PriorityChangeThreshold: 20,
			MinPriorityToFocus:      70,
			AudioBoostFactor:        20,
			KeywordMatchBoost:       10,
			MentionBoost:            15,
			NoveltyBoost:            15,
			NoveltyRadius:           100,
			NoveltyWindow:           10,
			RecencyPenalty:          10,
			RecencyWindow:           3.0,
			StayBonus:               8,
			FocusHistory:            20,
			DetectionHistory:        50,
		},
		Camera: CameraConfig{
			MaxPanSpeed:      600,
			MaxZoomSpeed:     0.5,
			MinZoom:          1.0,
			MaxZoom:          2.0,
			PanThreshold:     50,
			ZoomThreshold:    0.1,
			SamplesPerSecond: 10,
			MinTransition:    0.5,
			MaxTransition:    3.0,
		},
		Cropper: CropperConfig{
			AnalysisWidth: 640,
			RetryStep:     0.5,
			Interpolate:   false,
		},
		Tracking: TrackingConfig{
			AnalysisFPS:   2,
			AnalysisWidth: 960,
		},
		FFmpeg: FFmpegConfig{
			Binary:  "ffmpeg",
			Probe:   "ffprobe",
			Encoder: "",
			Quality: 0,
		},
		Store: StoreConfig{
			Path: filepath.Join(".reframe", "runs.db"),
		},
	}
}

// envKeys are the settings that may be overridden with REFRAME_* variables
var envKeys = []string{"workers", "log_level", "platform", "store.path", "ffmpeg.encoder", "ffmpeg.quality"}

// Load reads configuration from file (if any) and the environment on top of defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("REFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Platforms) == 0 {
		cfg.Platforms = defaultPlatforms()
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// PlatformTable returns the immutable platform lookup built from this config.
func (c *Config) PlatformTable() Platforms {
	return NewPlatforms(c.Platforms)
}

func findConfigFile() string {
	candidates := []string{
		"./reframe.yaml",
		"./config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".reframe", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
