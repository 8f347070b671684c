package models

// ImportResult summarizes a bulk tower import. It is returned even when the
// import stopped early; Error then carries the cause.
type ImportResult struct {
	Total    int    `json:"total"`    // data rows read
	Inserted int    `json:"inserted"` // new records written
	Skipped  int    `json:"skipped"`  // malformed, outside the box, or already present
	Batches  int    `json:"batches"`
	Error    string `json:"error,omitempty"`
}

// EnrichResult summarizes one address enrichment batch
type EnrichResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}
