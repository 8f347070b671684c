package models

import "time"

// LocationSample is one persisted device position
type LocationSample struct {
	ID         int64     `json:"id" db:"id"`
	DeviceID   string    `json:"deviceId" db:"device_id"`
	Lat        float64   `json:"lat" db:"latitude"`
	Lon        float64   `json:"lon" db:"longitude"`
	Address    string    `json:"address,omitempty" db:"address"`
	RecordedAt time.Time `json:"recordedAt" db:"recorded_at"`
}

// TowerObservation is a tower seen by a device at the time of a sample
type TowerObservation struct {
	ID       int64  `json:"id" db:"id"`
	DeviceID string `json:"deviceId" db:"device_id"`
	TowerIdentifier
	Radio          string    `json:"radio" db:"radio"`
	SignalStrength *int      `json:"signalStrength,omitempty" db:"signal_strength"`
	SignalDBM      *int      `json:"signalDbm,omitempty" db:"signal_dbm"`
	PCI            *int      `json:"pci,omitempty" db:"pci"`
	IsServing      bool      `json:"isServing" db:"is_serving"`
	RecordedAt     time.Time `json:"recordedAt" db:"recorded_at"`
}

// HistoryFilter represents filter parameters for a device's position history
type HistoryFilter struct {
	Start time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End   time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit int       `form:"limit"`
}

// HistoryEntry is a position together with the towers observed at that instant
type HistoryEntry struct {
	LocationSample
	Towers []TowerObservation `json:"towers"`
}

// ObservedCell is an observation joined with its cached tower, when resolved
type ObservedCell struct {
	TowerObservation
	Tower *TowerRecord `json:"tower,omitempty"`
}

// CellSnapshot is the latest batch of tower observations for a device
type CellSnapshot struct {
	DeviceID   string         `json:"deviceId"`
	RecordedAt time.Time      `json:"recordedAt"`
	Serving    *ObservedCell  `json:"serving"`
	Neighbors  []ObservedCell `json:"neighbors"`
}
