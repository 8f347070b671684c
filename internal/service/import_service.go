package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/geo/s2"

	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/spatial"
)

// TowerBulkStore accepts batches of imported towers
type TowerBulkStore interface {
	BulkInsertIgnore(ctx context.Context, recs []models.TowerRecord) (int, error)
}

// ImportConfig tunes the bulk importer
type ImportConfig struct {
	BatchSize int
	Box       models.BoundingBox
}

// column positions of the OpenCellID export:
// radio,mcc,net,area,cell,unit,lon,lat,range,samples,changeable,created,updated,averageSignal
type csvLayout struct {
	radio, mcc, mnc, lac, cid, lon, lat, rng int
	width                                    int
}

var openCellIDLayout = csvLayout{radio: 0, mcc: 1, mnc: 2, lac: 3, cid: 4, lon: 6, lat: 7, rng: 8, width: 7}

var headerAliases = map[string]string{
	"radio": "radio", "type": "radio",
	"mcc": "mcc",
	"net": "mnc", "mnc": "mnc",
	"area": "lac", "lac": "lac", "tac": "lac",
	"cell": "cid", "cid": "cid", "cellid": "cid",
	"lon": "lon", "lng": "lon", "longitude": "lon",
	"lat": "lat", "latitude": "lat",
	"range": "range",
}

// layoutFromHeader maps a header row onto column positions
func layoutFromHeader(header []string) (csvLayout, bool) {
	l := csvLayout{radio: -1, mcc: -1, mnc: -1, lac: -1, cid: -1, lon: -1, lat: -1, rng: -1}
	for i, name := range header {
		switch headerAliases[strings.ToLower(strings.TrimSpace(name))] {
		case "radio":
			l.radio = i
		case "mcc":
			l.mcc = i
		case "mnc":
			l.mnc = i
		case "lac":
			l.lac = i
		case "cid":
			l.cid = i
		case "lon":
			l.lon = i
		case "lat":
			l.lat = i
		case "range":
			l.rng = i
		}
	}
	for _, idx := range []int{l.mcc, l.mnc, l.lac, l.cid, l.lon, l.lat} {
		if idx < 0 {
			return l, false
		}
		if idx > l.width {
			l.width = idx
		}
	}
	return l, true
}

// ImportService streams a tower dataset into the cache
type ImportService struct {
	store TowerBulkStore
	cfg   ImportConfig
	rect  s2.Rect
}

// NewImportService creates an importer that keeps only towers inside cfg.Box
func NewImportService(store TowerBulkStore, cfg ImportConfig) *ImportService {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1000
	}
	return &ImportService{store: store, cfg: cfg, rect: spatial.BoundingRect(cfg.Box)}
}

// ImportFile opens path and imports it
func (s *ImportService) ImportFile(ctx context.Context, path string) (models.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.ImportResult{Error: err.Error()}, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return s.ImportDataset(ctx, f)
}

// ImportDataset reads CSV rows from r and inserts the valid ones in batches,
// skipping identifiers that are already cached. Reading pauses while a batch
// is being written. On a read or write failure the result so far is returned
// with the error; batches already written stay committed.
func (s *ImportService) ImportDataset(ctx context.Context, r io.Reader) (models.ImportResult, error) {
	var result models.ImportResult

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	reader.LazyQuotes = true

	layout := openCellIDLayout
	batch := make([]models.TowerRecord, 0, s.cfg.BatchSize)
	first := true

	fail := func(err error) (models.ImportResult, error) {
		result.Error = err.Error()
		logging.Error().Err(err).Int("total", result.Total).Int("inserted", result.Inserted).Msg("Tower import aborted")
		return result, err
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.store.BulkInsertIgnore(ctx, batch)
		if err != nil {
			return err
		}
		result.Inserted += n
		result.Skipped += len(batch) - n
		result.Batches++
		metrics.ImportRows.WithLabelValues("inserted").Add(float64(n))
		metrics.ImportRows.WithLabelValues("duplicate").Add(float64(len(batch) - n))
		if result.Batches%50 == 0 {
			logging.Info().
				Str("rows", humanize.Comma(int64(result.Total))).
				Str("inserted", humanize.Comma(int64(result.Inserted))).
				Msg("Tower import progress")
		}
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("failed to read dataset: %w", err))
		}

		if first {
			first = false
			if looksLikeHeader(row) {
				if l, ok := layoutFromHeader(row); ok {
					layout = l
				}
				continue
			}
		}

		result.Total++
		rec, ok := parseTowerRow(row, layout)
		if !ok || !spatial.RectContains(s.rect, rec.Lat, rec.Lon) {
			result.Skipped++
			metrics.ImportRows.WithLabelValues("skipped").Inc()
			continue
		}

		batch = append(batch, rec)
		if len(batch) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return fail(fmt.Errorf("failed to write batch: %w", err))
			}
		}
	}

	if err := flush(); err != nil {
		return fail(fmt.Errorf("failed to write batch: %w", err))
	}

	logging.Info().
		Str("total", humanize.Comma(int64(result.Total))).
		Str("inserted", humanize.Comma(int64(result.Inserted))).
		Str("skipped", humanize.Comma(int64(result.Skipped))).
		Msg("Tower import finished")
	return result, nil
}

func looksLikeHeader(row []string) bool {
	if len(row) < 2 {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
	return err != nil
}

// parseTowerRow extracts a record from one row. Rows with a missing or
// non-numeric identifier, or non-finite coordinates, are rejected.
func parseTowerRow(row []string, l csvLayout) (models.TowerRecord, bool) {
	var rec models.TowerRecord
	if len(row) <= l.width {
		return rec, false
	}

	ints := []struct {
		idx int
		dst *int64
	}{
		{l.mcc, &rec.MCC}, {l.mnc, &rec.MNC}, {l.lac, &rec.LAC}, {l.cid, &rec.CID},
	}
	for _, f := range ints {
		v, err := strconv.ParseInt(strings.TrimSpace(row[f.idx]), 10, 64)
		if err != nil || v < 0 {
			return rec, false
		}
		*f.dst = v
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(row[l.lat]), 64)
	if err != nil {
		return rec, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[l.lon]), 64)
	if err != nil {
		return rec, false
	}
	if !spatial.ValidCoordinate(lat, lon) {
		return rec, false
	}
	rec.Lat, rec.Lon = lat, lon

	if l.radio >= 0 && l.radio < len(row) {
		rec.Radio = strings.ToLower(strings.TrimSpace(row[l.radio]))
	}
	if l.rng >= 0 && l.rng < len(row) {
		if v, err := strconv.Atoi(strings.TrimSpace(row[l.rng])); err == nil && v >= 0 {
			rec.RangeMeters = v
		}
	}
	return rec, true
}
