package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"leadflow/internal/types"
)

// DefaultRetention keeps a day's key long enough to cover every timezone's
// digest window for that date.
const DefaultRetention = 48 * time.Hour

const defaultKeyPrefix = "leadflow:digest:"

// Option configures the Redis ledger.
type Option func(*Redis)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Redis) { r.logger = l }
}

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRetention overrides how long a sent marker is kept.
func WithRetention(d time.Duration) Option {
	return func(r *Redis) { r.retention = d }
}

// Redis stores one key per user and local date. The caller owns the client
// lifecycle.
type Redis struct {
	client    goredis.Cmdable
	prefix    string
	retention time.Duration
	logger    *slog.Logger
}

// NewRedis creates a Redis-backed ledger.
func NewRedis(client goredis.Cmdable, opts ...Option) *Redis {
	r := &Redis{
		client:    client,
		prefix:    defaultKeyPrefix,
		retention: DefaultRetention,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) key(userID, localDate string) string {
	return r.prefix + userID + ":" + localDate
}

// SentOn reports whether the marker for userID and localDate exists.
func (r *Redis) SentOn(ctx context.Context, userID, localDate string) (bool, error) {
	_, err := r.client.Get(ctx, r.key(userID, localDate)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeUpstreamUnavailable, "digest ledger read failed", err)
	}
	return true, nil
}

// Reserve writes the marker with SET NX and the configured retention. Only
// the instance whose SET succeeds gets true.
func (r *Redis) Reserve(ctx context.Context, userID, localDate string) (bool, error) {
	at := time.Now().UTC().Format(time.RFC3339)
	ok, err := r.client.SetNX(ctx, r.key(userID, localDate), at, r.retention).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamUnavailable, "digest ledger reservation failed", err)
	}
	r.logger.DebugContext(ctx, "digest reservation attempted",
		"user_id", userID,
		"local_date", localDate,
		"reserved", ok,
	)
	return ok, nil
}

// Release deletes the marker.
func (r *Redis) Release(ctx context.Context, userID, localDate string) error {
	if err := r.client.Del(ctx, r.key(userID, localDate)).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "digest ledger release failed", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
