package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/repository"
	"github.com/jengzang/mobile-supervisor-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vietnamBox = models.BoundingBox{MinLat: 8, MaxLat: 23.5, MinLon: 102, MaxLon: 110}

const openCellIDSample = `radio,mcc,net,area,cell,unit,lon,lat,range,samples,changeable,created,updated,averageSignal
LTE,452,4,10100,2001,0,106.7009,10.7769,850,12,1,1500000000,1600000000,0
GSM,452,1,5,77,0,105.8542,21.0285,1200,3,1,1500000000,1600000000,0
LTE,452,4,10100,2002,0,139.6917,35.6895,500,3,1,1500000000,1600000000,0
UMTS,452,2,abc,9,0,106.1,10.1,100,1,1,1500000000,1600000000,0
LTE,452,4,10100,2003,0,NaN,10.2,100,1,1,1500000000,1600000000,0
`

func TestImportDatasetCounts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	svc := NewImportService(repo, ImportConfig{BatchSize: 2, Box: vietnamBox})

	res, err := svc.ImportDataset(ctx, strings.NewReader(openCellIDSample))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 3, res.Skipped)
	assert.Empty(t, res.Error)

	rec, err := repo.Get(ctx, models.TowerIdentifier{MCC: 452, MNC: 4, LAC: 10100, CID: 2001})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 10.7769, rec.Lat)
	assert.Equal(t, 106.7009, rec.Lon)
	assert.Equal(t, "lte", rec.Radio)
	assert.Equal(t, 850, rec.RangeMeters)

	// Tokyo is outside the box
	rec, err = repo.Get(ctx, models.TowerIdentifier{MCC: 452, MNC: 4, LAC: 10100, CID: 2002})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestImportDatasetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	svc := NewImportService(repo, ImportConfig{BatchSize: 100, Box: vietnamBox})

	_, err := svc.ImportDataset(ctx, strings.NewReader(openCellIDSample))
	require.NoError(t, err)

	// Same identifiers with different coordinates must not overwrite anything
	moved := strings.ReplaceAll(openCellIDSample, "106.7009,10.7769", "106.0,11.0")
	res, err := svc.ImportDataset(ctx, strings.NewReader(moved))
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)

	rec, err := repo.Get(ctx, models.TowerIdentifier{MCC: 452, MNC: 4, LAC: 10100, CID: 2001})
	require.NoError(t, err)
	assert.Equal(t, 10.7769, rec.Lat)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestImportDatasetWithoutHeader(t *testing.T) {
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	svc := NewImportService(repo, ImportConfig{BatchSize: 10, Box: vietnamBox})

	data := "LTE,452,4,1,1,0,106.5,10.5,10\nLTE,452,4,1,2,0,106.6,10.6\n"
	res, err := svc.ImportDataset(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Inserted)
}

func TestImportDatasetBboxRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	svc := NewImportService(repo, ImportConfig{BatchSize: 10, Box: vietnamBox})

	_, err := svc.ImportDataset(ctx, strings.NewReader(openCellIDSample))
	require.NoError(t, err)

	got, err := repo.InBoundingBox(ctx, models.BoundingBox{MinLat: 10, MaxLat: 11, MinLon: 106, MaxLon: 107})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 2001, got[0].CID)
}

func TestImportDatasetStreamFailureKeepsFlushedBatches(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	svc := NewImportService(repo, ImportConfig{BatchSize: 1, Box: vietnamBox})

	boom := errors.New("connection reset")
	good := "LTE,452,4,1,1,0,106.5,10.5,10\nLTE,452,4,1,2,0,106.6,10.6,10\n"
	r := io.MultiReader(strings.NewReader(good), iotest.ErrReader(boom))

	res, err := svc.ImportDataset(ctx, r)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, res.Inserted)
	assert.NotEmpty(t, res.Error)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

type failingBulkStore struct{ err error }

func (f failingBulkStore) BulkInsertIgnore(ctx context.Context, recs []models.TowerRecord) (int, error) {
	return 0, f.err
}

func TestImportDatasetWriteFailureAborts(t *testing.T) {
	boom := errors.New("disk full")
	svc := NewImportService(failingBulkStore{err: boom}, ImportConfig{BatchSize: 1, Box: vietnamBox})

	res, err := svc.ImportDataset(context.Background(), strings.NewReader(openCellIDSample))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Total)
	assert.Zero(t, res.Inserted)
}
