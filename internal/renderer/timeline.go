package renderer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Size is a width/height pair in YAML form
type Size struct {
	W int `yaml:"w"`
	H int `yaml:"h"`
}

// Timeline is a generated camera path together with the geometry it was made for
type Timeline struct {
	Version   string           `yaml:"version"`
	Source    string           `yaml:"source"`
	Duration  float64          `yaml:"duration"`
	Frame     Size             `yaml:"frame"`
	Output    Size             `yaml:"output"`
	Targets   []string         `yaml:"targets,omitempty"`
	Keyframes []CameraKeyframe `yaml:"keyframes"`
}

const timelineSuffix = ".timeline.yaml"

// WriteTimeline writes a timeline to a YAML file
func WriteTimeline(path string, tl *Timeline) error {
	data, err := yaml.Marshal(tl)
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

// ReadTimeline reads a timeline from a YAML file
func ReadTimeline(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tl Timeline
	if err := yaml.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("parse timeline %s: %w", path, err)
	}
	if len(tl.Keyframes) == 0 {
		return nil, fmt.Errorf("timeline %s has no keyframes", path)
	}

	return &tl, nil
}

// TimelinePath creates a timestamped timeline filename for a clip
func TimelinePath(dir, clip string) string {
	base := strings.TrimSuffix(filepath.Base(clip), filepath.Ext(clip))
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", base, timestamp, timelineSuffix))
}

// FindLatestTimeline finds the most recently written timeline in dir
func FindLatestTimeline(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read timeline directory: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var timelines []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), timelineSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		timelines = append(timelines, candidate{filepath.Join(dir, entry.Name()), info.ModTime()})
	}

	if len(timelines) == 0 {
		return "", fmt.Errorf("no timeline files found in %s", dir)
	}

	// Sort by modification time (newest first)
	sort.Slice(timelines, func(i, j int) bool {
		return timelines[i].mod.After(timelines[j].mod)
	})

	return timelines[0].path, nil
}
