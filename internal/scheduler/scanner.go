package scheduler

import (
	"context"
	"log/slog"
	"time"

	"leadflow/internal/timezone"
	"leadflow/internal/types"
)

// Scanner selects the follow-ups a cycle should consider. The horizon
// bounds scan cost from above; there is deliberately no lower bound so a
// task missed during downtime still surfaces on the next cycle.
type Scanner struct {
	store       TaskStore
	zones       *timezone.Resolver
	horizonDays int
	logger      *slog.Logger
}

// NewScanner creates a Scanner. Negative horizons are treated as zero.
func NewScanner(store TaskStore, zones *timezone.Resolver, horizonDays int, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if horizonDays < 0 {
		horizonDays = 0
	}
	return &Scanner{store: store, zones: zones, horizonDays: horizonDays, logger: logger}
}

// HorizonDate returns today's date in the default zone plus the horizon.
func (s *Scanner) HorizonDate(now time.Time) string {
	today := s.zones.LocalDate(now, s.zones.Default())
	return addDays(today, s.horizonDays)
}

// Scan returns the unordered candidate set. Records the store returns that
// are already completed or notified are dropped.
func (s *Scanner) Scan(ctx context.Context, now time.Time) ([]types.FollowUpTask, error) {
	horizon := s.HorizonDate(now)

	tasks, err := s.store.ListDueFollowUps(ctx, horizon)
	if err != nil {
		return nil, err
	}

	candidates := tasks[:0]
	for _, t := range tasks {
		if t.Completed || t.Notified {
			continue
		}
		candidates = append(candidates, t)
	}

	s.logger.DebugContext(ctx, "candidate scan complete",
		"horizon", horizon,
		"candidates", len(candidates),
	)
	return candidates, nil
}
