package preflight

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"crosspost/internal/config"
)

// CheckResult reports the outcome of a single readiness check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Dependencies are the live handles RunAll probes. Nil fields are skipped.
type Dependencies struct {
	DB     Pinger
	Redis  goredis.UniversalClient
	Loader *Loader
}

// RunAll executes all applicable readiness checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, deps Dependencies) []CheckResult {
	if cfg == nil {
		return nil
	}

	results := []CheckResult{CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)}

	if deps.DB != nil {
		results = append(results, CheckDatabase(ctx, deps.DB))
	}
	if cfg.RateLimiter.Backend == config.RateLimiterRedis {
		results = append(results, CheckRedis(ctx, deps.Redis))
	}
	if deps.Loader != nil {
		results = append(results, CheckRules(ctx, deps.Loader))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []CheckResult) []CheckResult {
	var out []CheckResult
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
