package boundary

import (
	"math"

	"github.com/sells-group/market-atlas/internal/geo"
)

// DefaultReloadThreshold is the fraction of the last viewport's size the map
// may pan or resize before a viewport-filtered feature set is rebuilt.
const DefaultReloadThreshold = 0.3

// DefaultBuffer is the margin in degrees added around the viewport when
// filtering ZIP geometry.
const DefaultBuffer = 0.5

// Window remembers the viewport a filtered feature set was built for.
type Window struct {
	last geo.Bounds
	set  bool
}

// NeedsReload reports whether b has moved or resized by more than threshold
// relative to the last marked viewport. An unmarked window always reloads.
func (w *Window) NeedsReload(b geo.Bounds, threshold float64) bool {
	if !w.set {
		return true
	}
	lw, lh := w.last.Width(), w.last.Height()
	if lw <= 0 || lh <= 0 {
		return true
	}
	lcx, lcy := w.last.Center()
	cx, cy := b.Center()

	shifts := []float64{
		math.Abs(cx-lcx) / lw,
		math.Abs(cy-lcy) / lh,
		math.Abs(b.Width()-lw) / lw,
		math.Abs(b.Height()-lh) / lh,
	}
	for _, s := range shifts {
		if s > threshold {
			return true
		}
	}
	return false
}

// Mark records b as the viewport the current filtered set was built for.
func (w *Window) Mark(b geo.Bounds) {
	w.last = b
	w.set = true
}

// Reset forgets the last viewport.
func (w *Window) Reset() {
	w.last = geo.Bounds{}
	w.set = false
}

// Last returns the marked viewport, if any.
func (w *Window) Last() (geo.Bounds, bool) {
	return w.last, w.set
}
