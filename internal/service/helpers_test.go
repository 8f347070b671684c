package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/provider"
	"github.com/jengzang/mobile-supervisor-go/internal/testutil"
)

func init() {
	testutil.QuietLogs()
}

// stubLocator answers from a fixed table and counts calls
type stubLocator struct {
	mu      sync.Mutex
	answers map[models.TowerIdentifier]provider.Location
	delay   time.Duration
	calls   atomic.Int32
	// entered, when set, is signalled on every call
	entered chan struct{}
}

func newStubLocator() *stubLocator {
	return &stubLocator{answers: make(map[models.TowerIdentifier]provider.Location)}
}

func (s *stubLocator) set(id models.TowerIdentifier, loc provider.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[id] = loc
}

func (s *stubLocator) Name() string { return "stub" }

func (s *stubLocator) Locate(ctx context.Context, tower models.ReportedTower) (*provider.Location, error) {
	s.calls.Add(1)
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.answers[tower.TowerIdentifier]
	if !ok {
		return nil, models.ErrProviderNoResult
	}
	return &loc, nil
}

// recordingBroadcaster keeps every event it was given
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []models.PositionEvent
}

func (b *recordingBroadcaster) BroadcastPosition(evt models.PositionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBroadcaster) all() []models.PositionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.PositionEvent(nil), b.events...)
}

// recordingSubmitter keeps every submitted tower
type recordingSubmitter struct {
	mu     sync.Mutex
	towers []models.ReportedTower
}

func (s *recordingSubmitter) Submit(t models.ReportedTower) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.towers = append(s.towers, t)
	return true
}

func (s *recordingSubmitter) all() []models.ReportedTower {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ReportedTower(nil), s.towers...)
}

func towerID(cid int64) models.TowerIdentifier {
	return models.TowerIdentifier{MCC: 452, MNC: 4, LAC: 10100, CID: cid}
}

func reported(cid int64) models.ReportedTower {
	return models.ReportedTower{TowerIdentifier: towerID(cid), Radio: "lte"}
}
