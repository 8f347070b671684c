package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/jengzang/mobile-supervisor-go/internal/spatial"
)

// simDevice is one simulated handset
type simDevice struct {
	Name  string
	Phone string
	Lat   float64
	Lon   float64
}

func newDevices(n int, lat, lon float64) []*simDevice {
	out := make([]*simDevice, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, &simDevice{
			Name:  fmt.Sprintf("device-%02d", i),
			Phone: fmt.Sprintf("09870000%02d", i),
			Lat:   lat,
			Lon:   lon,
		})
	}
	return out
}

// step moves the device stepMeters in a random direction
func (d *simDevice) step(rng *rand.Rand, stepMeters float64) {
	bearing := rng.Float64() * 360
	d.Lat, d.Lon = spatial.DestinationPoint(d.Lat, d.Lon, bearing, stepMeters)
}

// positionBody is the flat intake payload
type positionBody struct {
	PhoneNumber  string  `json:"phoneNumber"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	ISOTimestamp string  `json:"isoTimestamp"`
}
