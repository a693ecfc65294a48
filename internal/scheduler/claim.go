package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"leadflow/internal/types"
)

// DefaultClaimTTL bounds how long a crashed claimant blocks retries.
const DefaultClaimTTL = 15 * time.Minute

// ClaimResult is the outcome of TryClaim. In legacy mode Claimed is always
// true and no mutual exclusion is provided.
type ClaimResult struct {
	Claimed    bool
	LegacyMode bool
}

// ClaimCoordinator grants at most one live claim per follow-up through the
// store's conditional update.
//
// Whether the store supports claiming is decided once at startup and
// injected. If the store later reports that the claim column is missing,
// the coordinator downgrades to legacy mode for the rest of the process.
// Stores implementing ClaimCapability are kept in step in both directions.
type ClaimCoordinator struct {
	store  ClaimStore
	ttl    time.Duration
	logger *slog.Logger

	legacy     atomic.Bool
	legacyOnce sync.Once
}

// NewClaimCoordinator creates a coordinator. A non-positive ttl falls back
// to DefaultClaimTTL.
func NewClaimCoordinator(store ClaimStore, supportsClaiming bool, ttl time.Duration, logger *slog.Logger) *ClaimCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	c := &ClaimCoordinator{store: store, ttl: ttl, logger: logger}
	if !supportsClaiming {
		c.enterLegacy(context.Background(), "claiming disabled at startup")
	}
	return c
}

// TTL returns the claim lease duration.
func (c *ClaimCoordinator) TTL() time.Duration {
	return c.ttl
}

// LegacyMode reports whether claims are currently bypassed.
func (c *ClaimCoordinator) LegacyMode() bool {
	c.syncWithStore(context.Background())
	return c.legacy.Load()
}

// TryClaim attempts to take the notification lease for taskID at now.
// Store errors yield Claimed=false so the task is retried next cycle.
func (c *ClaimCoordinator) TryClaim(ctx context.Context, taskID string, now time.Time) ClaimResult {
	c.syncWithStore(ctx)
	if c.legacy.Load() {
		return ClaimResult{Claimed: true, LegacyMode: true}
	}

	claimed, err := c.store.ConditionalClaim(ctx, taskID, now, c.ttl)
	if err != nil {
		if types.HasCode(err, types.ErrCodeInternalClaimUnsupported) {
			c.enterLegacy(ctx, "store reported missing claim column")
			return ClaimResult{Claimed: true, LegacyMode: true}
		}
		c.logger.ErrorContext(ctx, "conditional claim failed, skipping task this cycle",
			"task_id", taskID,
			"error", err,
		)
		return ClaimResult{}
	}

	if !claimed {
		c.logger.DebugContext(ctx, "follow-up claimed elsewhere",
			"task_id", taskID,
		)
	}
	return ClaimResult{Claimed: claimed}
}

// syncWithStore enters legacy mode when the store has already given up on
// the claim column, for example after a failed scan.
func (c *ClaimCoordinator) syncWithStore(ctx context.Context) {
	if c.legacy.Load() {
		return
	}
	if capable, ok := c.store.(ClaimCapability); ok && !capable.SupportsClaiming() {
		c.enterLegacy(ctx, "store reported missing claim column")
	}
}

func (c *ClaimCoordinator) enterLegacy(ctx context.Context, reason string) {
	c.legacy.Store(true)
	if capable, ok := c.store.(ClaimCapability); ok {
		capable.DisableClaiming()
	}
	c.legacyOnce.Do(func() {
		c.logger.WarnContext(ctx, "reminder claims running in legacy mode; concurrent dispatchers may double-notify",
			"reason", reason,
		)
	})
}
