package analyzer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ivlev/reframe/internal/config"
)

// FaceBackendFactory builds a FaceFinder from detector config
type FaceBackendFactory func(cfg config.DetectorConfig) (FaceFinder, error)

var (
	backendsMu   sync.RWMutex
	faceBackends = map[string]FaceBackendFactory{
		"pigo": newPigoFromConfig,
	}
)

// RegisterFaceBackend makes a face backend selectable by name
func RegisterFaceBackend(name string, factory FaceBackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	faceBackends[name] = factory
}

// FaceBackends lists registered backend names
func FaceBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(faceBackends))
	for name := range faceBackends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFaceFinder creates a face finder for the configured backend
func NewFaceFinder(cfg config.DetectorConfig) (FaceFinder, error) {
	backend := cfg.FaceBackend
	if backend == "" {
		backend = "pigo"
	}

	backendsMu.RLock()
	factory, ok := faceBackends[backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown face backend: %s", backend)
	}

	return factory(cfg)
}

// NewDetector creates a detector based on the specified variant
func NewDetector(variant string, cfg config.DetectorConfig, logger zerolog.Logger, opts ...Option) (Detector, error) {
	switch variant {
	case "layered", "":
		return NewContentDetector(cfg, logger, opts...), nil
	case "saliency":
		return SaliencyDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown detector variant: %s", variant)
	}
}
