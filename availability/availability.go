// Package availability flips whether volunteers can be offered calls.
package availability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firgia/soca/metrics"
	"github.com/firgia/soca/types"
)

type Setter interface {
	SetCallAvailability(ctx context.Context, ids []string, available bool) ([]types.AvailabilityResult, error)
}

type Toggler struct {
	store  Setter
	logger *slog.Logger
}

func New(store Setter, logger *slog.Logger) *Toggler {
	return &Toggler{
		store:  store,
		logger: logger,
	}
}

// SetAvailability writes the flag for every id in one batch. Failures
// are logged per id and never retried.
func (t *Toggler) SetAvailability(ctx context.Context, ids []string, available bool) error {
	if len(ids) == 0 {
		return nil
	}

	results, err := t.store.SetCallAvailability(ctx, ids, available)

	failed := 0
	for _, r := range results {
		metrics.AvailabilityUpdates.WithLabelValues(metrics.Result(r.Err)).Inc()
		if r.Err != nil {
			failed++
			t.logger.Error("could not set call availability", "user_id", r.UserID, "available", available, "err", r.Err)
		}
	}

	if err != nil {
		return fmt.Errorf("set call availability: %w", err)
	}

	if failed != 0 {
		return fmt.Errorf("set call availability: %d of %d users failed", failed, len(ids))
	}

	return nil
}
