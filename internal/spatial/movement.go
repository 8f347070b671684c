package spatial

import (
	"time"
)

// Sample is a timestamped position fed to the movement filter
type Sample struct {
	Point
	At time.Time
}

// FilterConfig holds the movement thresholds
type FilterConfig struct {
	// MinMoveMeters is the smallest displacement that counts as movement
	MinMoveMeters float64
	// MaxSpeedKph rejects physically implausible jumps; 0 disables the check
	MaxSpeedKph float64
}

// Rejection reasons reported by Evaluate
const (
	ReasonFirstSample = "first_sample"
	ReasonMoved       = "moved"
	ReasonTooClose    = "below_min_move"
	ReasonTooFast     = "above_max_speed"
	ReasonOutOfOrder  = "not_after_previous"
)

// Decision is the outcome of evaluating one candidate sample
type Decision struct {
	Accept         bool
	Reason         string
	DistanceMeters float64
	SpeedKph       float64
}

// Evaluate decides whether cand is a meaningful move from prev. A nil prev
// always accepts. Otherwise the candidate must be at least MinMoveMeters away,
// strictly later than prev, and, when MaxSpeedKph is set, not imply a speed
// above it.
func Evaluate(prev *Sample, cand Sample, cfg FilterConfig) Decision {
	if prev == nil {
		return Decision{Accept: true, Reason: ReasonFirstSample}
	}

	d := Decision{
		DistanceMeters: HaversineDistance(prev.Lat, prev.Lon, cand.Lat, cand.Lon),
	}
	if d.DistanceMeters < cfg.MinMoveMeters {
		d.Reason = ReasonTooClose
		return d
	}

	elapsed := cand.At.Sub(prev.At)
	if elapsed <= 0 {
		d.Reason = ReasonOutOfOrder
		return d
	}

	d.SpeedKph = SpeedKph(d.DistanceMeters, elapsed)
	if cfg.MaxSpeedKph > 0 && d.SpeedKph > cfg.MaxSpeedKph {
		d.Reason = ReasonTooFast
		return d
	}

	d.Accept = true
	d.Reason = ReasonMoved
	return d
}

// ShouldAccept is Evaluate reduced to its verdict
func ShouldAccept(prev *Sample, cand Sample, cfg FilterConfig) bool {
	return Evaluate(prev, cand, cfg).Accept
}

// Smoother averages the last Size positions pushed into it
type Smoother struct {
	size   int
	window []Point
}

// NewSmoother returns a smoother over a window of size points (minimum 1)
func NewSmoother(size int) *Smoother {
	if size < 1 {
		size = 1
	}
	return &Smoother{size: size, window: make([]Point, 0, size)}
}

// Push adds p to the window and returns the window's centroid
func (s *Smoother) Push(p Point) Point {
	if len(s.window) == s.size {
		copy(s.window, s.window[1:])
		s.window = s.window[:s.size-1]
	}
	s.window = append(s.window, p)
	return Centroid(s.window)
}

// Len returns the number of points currently in the window
func (s *Smoother) Len() int {
	return len(s.window)
}
