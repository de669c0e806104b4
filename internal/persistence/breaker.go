package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// guardedStore wraps a Store so that a database outage trips a
// breaker instead of letting every session's flush worker pile up
// retries against a connection that is already failing.
type guardedStore struct {
	inner   Store
	save    *gobreaker.CircuitBreaker[struct{}]
	load    *gobreaker.CircuitBreaker[loadResult]
	del     *gobreaker.CircuitBreaker[struct{}]
	logger  zerolog.Logger
}

type loadResult struct {
	version byte
	blob    []byte
}

// NewGuardedStore wraps inner with three independent breakers (save,
// load, delete) so a burst of failed saves cannot trip reads, and
// vice versa.
func NewGuardedStore(inner Store, logger zerolog.Logger) Store {
	logger = logger.With().Str("component", "persistence_breaker").Logger()

	onStateChange := func(name string, from, to gobreaker.State) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("persistence circuit breaker state change")
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: onStateChange,
		}
	}

	loadSettings := settings("persistence.load")
	loadSettings.IsSuccessful = func(err error) bool {
		return err == nil || err == ErrNotFound
	}

	return &guardedStore{
		inner:  inner,
		save:   gobreaker.NewCircuitBreaker[struct{}](settings("persistence.save")),
		load:   gobreaker.NewCircuitBreaker[loadResult](loadSettings),
		del:    gobreaker.NewCircuitBreaker[struct{}](settings("persistence.delete")),
		logger: logger,
	}
}

func (g *guardedStore) Save(ctx context.Context, userID string, version byte, blob []byte) error {
	_, err := g.save.Execute(func() (struct{}, error) {
		return struct{}{}, g.inner.Save(ctx, userID, version, blob)
	})
	return err
}

func (g *guardedStore) Load(ctx context.Context, userID string) (byte, []byte, error) {
	res, err := g.load.Execute(func() (loadResult, error) {
		version, blob, err := g.inner.Load(ctx, userID)
		if err != nil {
			return loadResult{}, err
		}
		return loadResult{version: version, blob: blob}, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return res.version, res.blob, nil
}

func (g *guardedStore) Delete(ctx context.Context, userID string) error {
	_, err := g.del.Execute(func() (struct{}, error) {
		return struct{}{}, g.inner.Delete(ctx, userID)
	})
	return err
}

func (g *guardedStore) Close() {
	g.inner.Close()
}
