package spatial

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

// Point represents a 2D point with latitude and longitude
type Point struct {
	Lat float64
	Lon float64
}

// Centroid calculates the arithmetic centroid of a set of points
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat
		sumLon += p.Lon
	}

	return Point{
		Lat: sumLat / float64(len(points)),
		Lon: sumLon / float64(len(points)),
	}
}

// BoundingRect converts an inclusive bounding box into an s2 rectangle
func BoundingRect(box models.BoundingBox) s2.Rect {
	lo := s2.LatLngFromDegrees(box.MinLat, box.MinLon)
	hi := s2.LatLngFromDegrees(box.MaxLat, box.MaxLon)
	return s2.Rect{
		Lat: r1.Interval{Lo: lo.Lat.Radians(), Hi: hi.Lat.Radians()},
		Lng: s1.IntervalFromEndpoints(lo.Lng.Radians(), hi.Lng.Radians()),
	}
}

// RectContains reports whether the rectangle contains lat/lon, edges included
func RectContains(rect s2.Rect, lat, lon float64) bool {
	return rect.ContainsLatLng(s2.LatLngFromDegrees(lat, lon))
}
