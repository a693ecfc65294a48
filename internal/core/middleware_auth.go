package core

import (
	"crypto/subtle"
	"net/http"

	"leadflow/internal/types"
)

const cronSecretHeader = "X-Cron-Secret"

// CronSecretMiddleware guards internal routes with the shared secret sent by
// the scheduler in X-Cron-Secret. With no secret configured the routes are
// disabled and answer 503.
func (s *Server) CronSecretMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.CronSecret.IsSet() {
			Error(w, r, types.NewAppError(types.ErrCodeServiceUnavailable, "internal trigger endpoint is disabled", nil))
			return
		}

		got := r.Header.Get(cronSecretHeader)
		if got == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing "+cronSecretHeader+" header", nil))
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.CronSecret.Unmask())) != 1 {
			s.Logger.WarnContext(r.Context(), "rejected internal trigger with bad secret",
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid cron secret", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}
