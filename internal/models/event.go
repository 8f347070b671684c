package models

// PositionEvent is pushed to realtime subscribers for every valid report
type PositionEvent struct {
	DeviceID       string  `json:"deviceId"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	ServingCellID  *int64  `json:"servingCellId,omitempty"`
	ServingLAC     *int64  `json:"servingLac,omitempty"`
	SignalStrength *int    `json:"signalStrength,omitempty"`
	Timestamp      int64   `json:"timestamp"` // Unix milliseconds
	UserName       string  `json:"userName,omitempty"`
	PhoneNumber    string  `json:"phoneNumber,omitempty"`

	// Smoothed position for live display, and whether it counts as movement
	SmoothLat float64 `json:"smoothLat"`
	SmoothLon float64 `json:"smoothLon"`
	Moving    bool    `json:"moving"`
}
