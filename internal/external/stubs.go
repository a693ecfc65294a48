package external

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"leadflow/internal/notifications/email"
	"leadflow/internal/types"
)

// StubEmailProvider logs instead of sending. Selected with
// EMAIL_PROVIDER=stub for local runs; refused in prod by config validation.
type StubEmailProvider struct {
	logger *slog.Logger
	sent   atomic.Int64
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.sent.Add(1)
	s.logger.InfoContext(ctx, "stub: email send",
		"to", email.RedactEmail(input.To),
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return "stub-" + uuid.NewString(), nil
}

// Sent returns how many messages the stub has accepted.
func (s *StubEmailProvider) Sent() int64 {
	return s.sent.Load()
}

var _ EmailProvider = (*StubEmailProvider)(nil)
