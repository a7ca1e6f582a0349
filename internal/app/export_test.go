package app

import "github.com/JakeFAU/blogscan/internal/policy/ratelimit"

// Limiters exposes the per-host limiters handed to discovery and analysis.
func (a *App) Limiters() (discovery, analysis *ratelimit.Limiter) {
	return a.discoveryLimiter, a.analysisLimiter
}
