package router

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/finance-tracker-auth/internal/http/response"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func readinessHandler(checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		results := make([]checkResult, len(checks))
		var g errgroup.Group
		for i, c := range checks {
			g.Go(func() error {
				results[i] = checkResult{Name: c.Name, Healthy: true}
				if err := c.Check(ctx); err != nil {
					results[i] = checkResult{Name: c.Name, Error: err.Error()}
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, res := range results {
			if !res.Healthy {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
	}
}
