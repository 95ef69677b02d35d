// Package diagnostics probes the cloud APIs the service depends on and
// aggregates the results into a single readiness verdict.
package diagnostics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of a single probe.
type Result struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Diagnosable is a component that can probe its own dependency.
type Diagnosable interface {
	// DiagnosticsName identifies the probe in results and logs.
	DiagnosticsName() string

	// CheckAccess verifies the dependency is reachable and the
	// service's credentials are sufficient.
	CheckAccess(ctx context.Context) error
}

// NewProbe adapts a function into a Diagnosable, for probes that need
// to close over configuration such as the analysis scope.
func NewProbe(name string, check func(ctx context.Context) error) Diagnosable {
	return &probe{name: name, check: check}
}

type probe struct {
	name  string
	check func(ctx context.Context) error
}

func (p *probe) DiagnosticsName() string               { return p.name }
func (p *probe) CheckAccess(ctx context.Context) error { return p.check(ctx) }

// Runner executes probes concurrently and reports the combined result.
type Runner struct {
	probes []Diagnosable
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger, probes ...Diagnosable) *Runner {
	return &Runner{
		probes: probes,
		logger: logger,
	}
}

// Run probes all dependencies. The service is healthy only if every
// probe succeeds; individual failures are logged and reported but do
// not abort the remaining probes.
func (r *Runner) Run(ctx context.Context) (bool, []Result) {
	results := make([]Result, len(r.probes))

	var mu sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	for i, probe := range r.probes {
		group.Go(func() error {
			started := time.Now()
			err := probe.CheckAccess(ctx)

			result := Result{
				Name:      probe.DiagnosticsName(),
				Healthy:   err == nil,
				Duration:  time.Since(started),
				CheckedAt: started.UTC(),
			}
			if err != nil {
				result.Error = err.Error()
				r.logger.WarnContext(ctx, "diagnostics probe failed",
					"probe", result.Name, "error", err)
			}

			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}

	// Probes never return errors through the group, they record them.
	_ = group.Wait()

	healthy := true
	for _, result := range results {
		healthy = healthy && result.Healthy
	}
	return healthy, results
}
