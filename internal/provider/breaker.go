package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

// BreakerSettings tunes when a provider's circuit opens
type BreakerSettings struct {
	// MinRequests before the failure ratio is considered
	MinRequests  uint32
	FailureRatio float64
	// OpenTimeout is how long the circuit stays open before probing again
	OpenTimeout time.Duration
}

// DefaultBreakerSettings opens after 60% failures over at least 10 requests
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MinRequests: 10, FailureRatio: 0.6, OpenTimeout: time.Minute}
}

func newBreaker[T any](name string, s BreakerSettings) *gobreaker.CircuitBreaker[T] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		// A definite "unknown cell" answer means the provider is healthy
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrProviderNoResult) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// breakerError maps an open circuit onto ErrProviderUnavailable
func breakerError(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit %s open", models.ErrProviderUnavailable, name)
	}
	return err
}

// BreakingLocator guards a CellLocator with a circuit breaker
type BreakingLocator struct {
	next CellLocator
	cb   *gobreaker.CircuitBreaker[*Location]
}

// NewBreakingLocator wraps next
func NewBreakingLocator(next CellLocator, s BreakerSettings) *BreakingLocator {
	return &BreakingLocator{next: next, cb: newBreaker[*Location](next.Name(), s)}
}

func (b *BreakingLocator) Name() string {
	return b.next.Name()
}

func (b *BreakingLocator) Locate(ctx context.Context, tower models.ReportedTower) (*Location, error) {
	loc, err := b.cb.Execute(func() (*Location, error) {
		return b.next.Locate(ctx, tower)
	})
	if err != nil {
		return nil, breakerError(b.next.Name(), err)
	}
	return loc, nil
}

// BreakingGeocoder guards a ReverseGeocoder with a circuit breaker
type BreakingGeocoder struct {
	next ReverseGeocoder
	cb   *gobreaker.CircuitBreaker[string]
}

// NewBreakingGeocoder wraps next
func NewBreakingGeocoder(next ReverseGeocoder, s BreakerSettings) *BreakingGeocoder {
	return &BreakingGeocoder{next: next, cb: newBreaker[string](next.Name(), s)}
}

func (b *BreakingGeocoder) Name() string {
	return b.next.Name()
}

func (b *BreakingGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	addr, err := b.cb.Execute(func() (string, error) {
		return b.next.Reverse(ctx, lat, lon)
	})
	if err != nil {
		return "", breakerError(b.next.Name(), err)
	}
	return addr, nil
}
