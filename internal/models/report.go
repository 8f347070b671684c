package models

import "time"

// PositionReport is a validated, normalized device report ready for ingestion
type PositionReport struct {
	DeviceID    string
	PhoneNumber string
	Lat         float64
	Lon         float64
	// Timestamp is zero when the device sent none; ingestion uses server time then
	Timestamp time.Time
	// Towers is never nil after normalization. The first entry is the serving cell.
	Towers []ReportedTower
}

// DistinctTowers returns the report's towers with duplicate identifiers removed,
// keeping the first occurrence.
func (r *PositionReport) DistinctTowers() []ReportedTower {
	seen := make(map[TowerIdentifier]bool, len(r.Towers))
	out := make([]ReportedTower, 0, len(r.Towers))
	for _, t := range r.Towers {
		if seen[t.TowerIdentifier] {
			continue
		}
		seen[t.TowerIdentifier] = true
		out = append(out, t)
	}
	return out
}

// IngestResult is the outcome of one ingested report
type IngestResult struct {
	DeviceID  string `json:"deviceId"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	Persisted bool   `json:"persisted"`
	Towers    int    `json:"towersQueued"`
}
