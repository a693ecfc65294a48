package external

import (
	"context"

	"leadflow/internal/types"
)

// EmailProvider transmits pre-rendered email content and returns the
// provider's message id for correlation.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
