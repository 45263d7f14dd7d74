package config

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
)

// ErrUnknownPlatform is returned when a platform or ratio name is not in the table
var ErrUnknownPlatform = errors.New("unknown platform")

// Platforms is a read-only platform name -> output size lookup.
// It is built once at startup and shared by all workers.
type Platforms struct {
	sizes map[string]image.Point
}

func defaultPlatforms() map[string]Size {
	return map[string]Size{
		"9:16":   {Width: 1080, Height: 1920},
		"tiktok": {Width: 1080, Height: 1920},
		"reels":  {Width: 1080, Height: 1920},
		"shorts": {Width: 1080, Height: 1920},
		"1:1":    {Width: 1080, Height: 1080},
		"square": {Width: 1080, Height: 1080},
		"4:5":    {Width: 1080, Height: 1350},
		"16:9":   {Width: 1920, Height: 1080},
	}
}

// NewPlatforms copies the given table so later edits to the source map are not observed
func NewPlatforms(table map[string]Size) Platforms {
	sizes := make(map[string]image.Point, len(table))
	for name, s := range table {
		if s.Width <= 0 || s.Height <= 0 {
			continue
		}
		sizes[strings.ToLower(name)] = image.Pt(s.Width, s.Height)
	}
	return Platforms{sizes: sizes}
}

// Lookup resolves a platform name (case-insensitive) or an explicit "WxH" size
func (p Platforms) Lookup(name string) (image.Point, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if size, ok := p.sizes[key]; ok {
		return size, nil
	}

	var w, h int
	if n, err := fmt.Sscanf(key, "%dx%d", &w, &h); err == nil && n == 2 && w > 0 && h > 0 {
		return image.Pt(w, h), nil
	}

	return image.Point{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
}

// Names lists the known platform names in sorted order
func (p Platforms) Names() []string {
	names := make([]string, 0, len(p.sizes))
	for name := range p.sizes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
