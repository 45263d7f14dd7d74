package director

import (
	"fmt"

	"github.com/ivlev/reframe/internal/analyzer"
)

// FocusTarget is the detection the camera should follow from Since until at least HoldUntil
type FocusTarget struct {
	Detection     analyzer.Detection
	FinalPriority int
	Reason        string
	HoldUntil     float64
	Since         float64
}

// IsDefault reports whether the target is the synthetic centre-of-frame fallback
func (t *FocusTarget) IsDefault() bool {
	return t.Detection.Kind() == analyzer.KindDefault
}

func (t *FocusTarget) String() string {
	return fmt.Sprintf("%s@(%d,%d) p=%d [%.2fs-%.2fs]",
		t.Detection.Kind(), t.Detection.Center.X, t.Detection.Center.Y,
		t.FinalPriority, t.Since, t.HoldUntil)
}

// ring keeps the most recent n items
type ring[T any] struct {
	items []T
	limit int
}

func newRing[T any](limit int) ring[T] {
	if limit <= 0 {
		limit = 1
	}
	return ring[T]{limit: limit}
}

func (r *ring[T]) push(items ...T) {
	r.items = append(r.items, items...)
	if over := len(r.items) - r.limit; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

// last returns up to n most recent items, oldest first
func (r *ring[T]) last(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > len(r.items) {
		return r.items
	}
	return r.items[len(r.items)-n:]
}

func (r *ring[T]) clear() {
	r.items = nil
}
