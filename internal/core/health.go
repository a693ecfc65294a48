package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds all checks together.
const healthCheckTimeout = 2 * time.Second

// HealthCheck checks one dependency.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool and the Redis ledger.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingCheck struct {
	name string
	p    Pinger
}

// NewPingCheck adapts a Pinger into a HealthCheck.
func NewPingCheck(name string, p Pinger) HealthCheck {
	return pingCheck{name: name, p: p}
}

func (p pingCheck) Name() string                    { return p.name }
func (p pingCheck) Check(ctx context.Context) error { return p.p.Ping(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every check concurrently. It answers 200 when all pass
// and 503 when any fails, panics, or misses the deadline.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := s.HealthChecks
	if len(checks) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(checks))
		wg      sync.WaitGroup
	)
	for _, check := range checks {
		wg.Add(1)
		go func(p HealthCheck) {
			defer wg.Done()
			var err error
			func() {
				defer func() {
					if rvr := recover(); rvr != nil {
						err = fmt.Errorf("health check panicked: %v", rvr)
					}
				}()
				err = p.Check(ctx)
			}()
			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(check)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	components := make(map[string]componentStatus, len(checks))
	healthy := true
	for _, check := range checks {
		err, finished := results[check.Name()]
		switch {
		case !finished:
			healthy = false
			components[check.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			healthy = false
			components[check.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			components[check.Name()] = componentStatus{Status: "healthy"}
		}
	}

	if healthy {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Components: components})
		return
	}
	JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Components: components})
}
