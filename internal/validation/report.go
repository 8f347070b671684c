// Package validation decodes and validates device reports at the ingestion boundary.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the shared validator instance
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// TowerPayload is one tower entry as sent by devices. Both the flat
// (signalStrength/dbm) and the handset (rssi/signalDbm) field names are accepted.
type TowerPayload struct {
	Type           string `json:"type"`
	Radio          string `json:"radio"`
	MCC            *int64 `json:"mcc" validate:"required,gte=0"`
	MNC            *int64 `json:"mnc" validate:"required,gte=0"`
	LAC            *int64 `json:"lac" validate:"required,gte=0"`
	CID            *int64 `json:"cid" validate:"required,gte=0"`
	SignalStrength *int   `json:"signalStrength"`
	RSSI           *int   `json:"rssi"`
	DBM            *int   `json:"dbm"`
	SignalDBM      *int   `json:"signalDbm"`
	PCI            *int   `json:"pci"`
}

// LocationPayload is the nested location object of the handset submit format
type LocationPayload struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// ReportPayload accepts both report shapes:
//
//	{"deviceIdOrPhone":"...","latitude":10.7,"longitude":106.7,"timestampIso":"...","towers":[...]}
//	{"deviceId":"...","location":{"latitude":10.7,"longitude":106.7},"cellTowers":[...]}
type ReportPayload struct {
	DeviceID        string           `json:"deviceId"`
	PhoneNumber     string           `json:"phoneNumber"`
	DeviceIDOrPhone string           `json:"deviceIdOrPhone"`
	Latitude        *float64         `json:"latitude" validate:"omitempty,latitude"`
	Longitude       *float64         `json:"longitude" validate:"omitempty,longitude"`
	Location        *LocationPayload `json:"location"`
	TimestampISO    string           `json:"timestampIso"`
	ISOTimestamp    string           `json:"isoTimestamp"`
	Towers          []TowerPayload   `json:"towers" validate:"omitempty,dive"`
	CellTowers      []TowerPayload   `json:"cellTowers" validate:"omitempty,dive"`
}

// DecodeReport parses and validates a raw JSON report. Every failure wraps
// models.ErrInvalidReport.
func DecodeReport(data []byte) (models.PositionReport, error) {
	var p ReportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.PositionReport{}, fmt.Errorf("%w: malformed JSON: %v", models.ErrInvalidReport, err)
	}
	return p.Normalize()
}

// Normalize validates the payload and converts it into a PositionReport
func (p *ReportPayload) Normalize() (models.PositionReport, error) {
	if err := GetValidator().Struct(p); err != nil {
		return models.PositionReport{}, fmt.Errorf("%w: %s", models.ErrInvalidReport, describe(err))
	}

	var report models.PositionReport

	lat, lon := p.Latitude, p.Longitude
	if p.Location != nil {
		lat, lon = p.Location.Latitude, p.Location.Longitude
	}
	if lat == nil || lon == nil {
		return report, fmt.Errorf("%w: latitude and longitude are required", models.ErrInvalidReport)
	}
	report.Lat, report.Lon = *lat, *lon

	report.DeviceID = strings.TrimSpace(p.DeviceID)
	report.PhoneNumber = strings.TrimSpace(p.PhoneNumber)
	if id := strings.TrimSpace(p.DeviceIDOrPhone); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			if report.DeviceID == "" {
				report.DeviceID = id
			}
		} else if report.PhoneNumber == "" {
			report.PhoneNumber = id
		}
	}
	if report.DeviceID == "" && report.PhoneNumber == "" {
		return report, fmt.Errorf("%w: deviceId or phone number is required", models.ErrInvalidReport)
	}

	ts := p.TimestampISO
	if ts == "" {
		ts = p.ISOTimestamp
	}
	if ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return report, fmt.Errorf("%w: timestamp %q is not RFC 3339", models.ErrInvalidReport, ts)
		}
		report.Timestamp = parsed.UTC()
	}

	towers := p.Towers
	if len(towers) == 0 {
		towers = p.CellTowers
	}
	report.Towers = make([]models.ReportedTower, 0, len(towers))
	for _, t := range towers {
		report.Towers = append(report.Towers, t.toReported())
	}

	return report, nil
}

func (t TowerPayload) toReported() models.ReportedTower {
	radio := t.Radio
	if radio == "" {
		radio = t.Type
	}
	signal := t.SignalStrength
	if signal == nil {
		signal = t.RSSI
	}
	dbm := t.DBM
	if dbm == nil {
		dbm = t.SignalDBM
	}
	return models.ReportedTower{
		TowerIdentifier: models.TowerIdentifier{MCC: *t.MCC, MNC: *t.MNC, LAC: *t.LAC, CID: *t.CID},
		Radio:           strings.ToLower(radio),
		SignalStrength:  signal,
		SignalDBM:       dbm,
		PCI:             t.PCI,
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
