package spatial

import (
	"testing"
	"time"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func sample(lat, lon float64, at time.Time) Sample {
	return Sample{Point: Point{Lat: lat, Lon: lon}, At: at}
}

func TestHaversineDistance(t *testing.T) {
	// One degree of latitude is ~111.19 km on a 6371 km sphere
	d := HaversineDistance(10, 106, 11, 106)
	assert.InDelta(t, 111195, d, 5)

	assert.Zero(t, HaversineDistance(10.776889, 106.700806, 10.776889, 106.700806))
}

func TestEvaluateFirstSampleAccepted(t *testing.T) {
	d := Evaluate(nil, sample(10.78, 106.70, t0), FilterConfig{MinMoveMeters: 20})
	assert.True(t, d.Accept)
	assert.Equal(t, ReasonFirstSample, d.Reason)
}

func TestEvaluateSmallMoveRejected(t *testing.T) {
	prev := sample(10.77690, 106.70080, t0)
	cand := sample(10.77695, 106.70085, t0.Add(10*time.Second))

	d := Evaluate(&prev, cand, FilterConfig{MinMoveMeters: 20})
	assert.False(t, d.Accept)
	assert.Equal(t, ReasonTooClose, d.Reason)
	assert.InDelta(t, 7.7, d.DistanceMeters, 0.5)
}

func TestEvaluateReferenceCases(t *testing.T) {
	prev := sample(10.7769, 106.7009, t0)
	cfg := FilterConfig{MinMoveMeters: 20, MaxSpeedKph: 150}

	tests := []struct {
		name     string
		cand     Sample
		reason   string
		distance float64
		delta    float64
	}{
		{
			name:     "seven meters in two seconds",
			cand:     sample(10.77695, 106.70095, t0.Add(2*time.Second)),
			reason:   ReasonTooClose,
			distance: 7.8,
			delta:    0.5,
		},
		{
			name:     "saigon to hanoi in one second",
			cand:     sample(21.0285, 105.8541, t0.Add(time.Second)),
			reason:   ReasonTooFast,
			distance: 1_140_000,
			delta:    30_000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(&prev, tt.cand, cfg)
			assert.False(t, d.Accept)
			assert.Equal(t, tt.reason, d.Reason)
			assert.InDelta(t, tt.distance, d.DistanceMeters, tt.delta)
		})
	}
}

func TestEvaluateSpeedRejected(t *testing.T) {
	prev := sample(10.0, 106.0, t0)
	cand := sample(10.1, 106.0, t0.Add(time.Second))

	d := Evaluate(&prev, cand, FilterConfig{MinMoveMeters: 5, MaxSpeedKph: 200})
	assert.False(t, d.Accept)
	assert.Equal(t, ReasonTooFast, d.Reason)
	assert.Greater(t, d.SpeedKph, 200.0)

	// Same jump with speed checking disabled
	assert.True(t, ShouldAccept(&prev, cand, FilterConfig{MinMoveMeters: 5}))
}

func TestEvaluateOutOfOrderRejected(t *testing.T) {
	prev := sample(10.0, 106.0, t0)
	cand := sample(10.001, 106.0, t0)

	d := Evaluate(&prev, cand, FilterConfig{MinMoveMeters: 5})
	assert.False(t, d.Accept)
	assert.Equal(t, ReasonOutOfOrder, d.Reason)
}

func TestEvaluateMonotonicInMinMove(t *testing.T) {
	prev := sample(10.0, 106.0, t0)
	cand := sample(10.0003, 106.0, t0.Add(time.Minute)) // ~33 m

	thresholds := []float64{0, 5, 20, 33, 34, 50, 100}
	accepted := true
	for _, m := range thresholds {
		got := ShouldAccept(&prev, cand, FilterConfig{MinMoveMeters: m})
		if !accepted {
			assert.False(t, got, "raising min move to %v must not re-accept", m)
		}
		accepted = got
	}
	assert.False(t, accepted)
}

func TestEvaluateAtThresholdAccepted(t *testing.T) {
	prev := sample(10.0, 106.0, t0)
	cand := sample(10.0003, 106.0, t0.Add(time.Minute))
	dist := HaversineDistance(prev.Lat, prev.Lon, cand.Lat, cand.Lon)

	assert.True(t, ShouldAccept(&prev, cand, FilterConfig{MinMoveMeters: dist}))
}

func TestSmootherWindow(t *testing.T) {
	s := NewSmoother(3)

	p := s.Push(Point{Lat: 1, Lon: 1})
	assert.Equal(t, Point{Lat: 1, Lon: 1}, p)

	s.Push(Point{Lat: 2, Lon: 2})
	p = s.Push(Point{Lat: 3, Lon: 3})
	assert.InDelta(t, 2, p.Lat, 1e-9)

	// Oldest point drops out
	p = s.Push(Point{Lat: 7, Lon: 7})
	assert.InDelta(t, 4, p.Lat, 1e-9)
	assert.Equal(t, 3, s.Len())
}

func TestSmootherSizeOneIsPassThrough(t *testing.T) {
	s := NewSmoother(0)
	assert.Equal(t, Point{Lat: 5, Lon: 6}, s.Push(Point{Lat: 5, Lon: 6}))
	assert.Equal(t, Point{Lat: 7, Lon: 8}, s.Push(Point{Lat: 7, Lon: 8}))
}

func TestBoundingRectInclusive(t *testing.T) {
	box := models.BoundingBox{MinLat: 8, MaxLat: 23.5, MinLon: 102, MaxLon: 110}
	rect := BoundingRect(box)

	assert.True(t, RectContains(rect, 10.77, 106.70))
	assert.True(t, RectContains(rect, 8, 102))
	assert.True(t, RectContains(rect, 23.5, 110))
	assert.False(t, RectContains(rect, 7.99, 106))
	assert.False(t, RectContains(rect, 10, 110.01))
}

func TestValidCoordinate(t *testing.T) {
	assert.True(t, ValidCoordinate(-90, 180))
	assert.False(t, ValidCoordinate(91, 0))
	assert.False(t, ValidCoordinate(0, -181))
}
