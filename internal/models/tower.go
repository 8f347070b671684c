package models

import (
	"fmt"
	"time"
)

// TowerIdentifier is the composite key of a cell tower
type TowerIdentifier struct {
	MCC int64 `json:"mcc" db:"mcc"` // Mobile Country Code
	MNC int64 `json:"mnc" db:"mnc"` // Mobile Network Code
	LAC int64 `json:"lac" db:"lac"` // Location Area Code
	CID int64 `json:"cid" db:"cid"` // Cell ID
}

// Key returns a stable string form, e.g. "452-4-10100-2001"
func (t TowerIdentifier) Key() string {
	return fmt.Sprintf("%d-%d-%d-%d", t.MCC, t.MNC, t.LAC, t.CID)
}

// Valid reports whether every component is non-negative
func (t TowerIdentifier) Valid() bool {
	return t.MCC >= 0 && t.MNC >= 0 && t.LAC >= 0 && t.CID >= 0
}

// TowerRecord is a cached tower location. Coordinates never change after the
// first write; Address starts empty and is filled in at most once.
type TowerRecord struct {
	ID int64 `json:"id" db:"id"`
	TowerIdentifier
	Lat         float64   `json:"lat" db:"lat"`
	Lon         float64   `json:"lon" db:"lon"`
	Radio       string    `json:"radio" db:"radio"`      // gsm, umts, lte, nr
	RangeMeters int       `json:"range" db:"range_m"`    // provider accuracy radius
	Address     string    `json:"address" db:"address"`  // empty until enriched
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// HasAddress reports whether the record has been enriched
func (r *TowerRecord) HasAddress() bool {
	return r.Address != ""
}

// ReportedTower is one tower observation carried by a position report
type ReportedTower struct {
	TowerIdentifier
	Radio          string `json:"radio,omitempty"`
	SignalStrength *int   `json:"signalStrength,omitempty"` // RSSI / ASU as reported
	SignalDBM      *int   `json:"signalDbm,omitempty"`
	PCI            *int   `json:"pci,omitempty"`
}

// BoundingBox is an inclusive lat/lon rectangle
type BoundingBox struct {
	MinLat float64 `json:"minLat" form:"minLat"`
	MaxLat float64 `json:"maxLat" form:"maxLat"`
	MinLon float64 `json:"minLon" form:"minLon"`
	MaxLon float64 `json:"maxLon" form:"maxLon"`
}

// Valid reports whether the box is well formed and inside coordinate ranges
func (b BoundingBox) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 &&
		b.MinLon >= -180 && b.MaxLon <= 180
}
