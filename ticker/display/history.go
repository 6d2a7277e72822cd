package display

// DefaultHistoryPoints is the default capacity of the price history window
const DefaultHistoryPoints = 60

// History is a fixed-capacity window of recent prices. The oldest point is
// evicted when a new one arrives at capacity. Not safe for concurrent use;
// Display guards it with its own lock.
type History struct {
	points []float64
	max    int
}

// NewHistory creates a history window holding up to max points
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistoryPoints
	}
	return &History{
		points: make([]float64, 0, max),
		max:    max,
	}
}

// Add appends a price point, evicting the oldest at capacity
func (h *History) Add(price float64) {
	if len(h.points) == h.max {
		copy(h.points, h.points[1:])
		h.points = h.points[:len(h.points)-1]
	}
	h.points = append(h.points, price)
}

// Values returns the stored points oldest-first
func (h *History) Values() []float64 {
	out := make([]float64, len(h.points))
	copy(out, h.points)
	return out
}

// Len returns the number of stored points
func (h *History) Len() int {
	return len(h.points)
}

// Clear discards all stored points
func (h *History) Clear() {
	h.points = h.points[:0]
}

// Trend compares the newest point against the oldest
func (h *History) Trend() string {
	if len(h.points) < 2 {
		return "neutral"
	}
	first, last := h.points[0], h.points[len(h.points)-1]
	switch {
	case last > first:
		return "up"
	case last < first:
		return "down"
	default:
		return "neutral"
	}
}
