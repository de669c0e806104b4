// Package limits enforces static resource limits so the server degrades
// predictably under load instead of falling over: a hard connection
// cap, CPU/memory emergency brakes, and rate limiting on upstream tick
// consumption, mirroring the teacher's ResourceGuard but retargeted at
// the alert server's own admission points.
package limits

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"

	"github.com/tickwatch/alertserver/internal/config"
)

// Guard enforces configured resource limits. Unlike a dynamic
// autoscaler, it never recalculates its own thresholds — the operator
// sets them, Guard enforces them.
type Guard struct {
	cfg    *config.Config
	logger zerolog.Logger

	tickLimiter *rate.Limiter

	currentCPU    atomic.Value // float64
	currentMemory atomic.Value // int64

	activeConnections func() int64
}

// NewGuard builds a Guard. activeConnections reads the downstream
// server's live connection counter so admission decisions use the
// same source of truth the server itself exposes.
func NewGuard(cfg *config.Config, logger zerolog.Logger, activeConnections func() int64) *Guard {
	g := &Guard{
		cfg:               cfg,
		logger:            logger.With().Str("component", "resource_guard").Logger(),
		tickLimiter:       rate.NewLimiter(rate.Limit(50_000), 100_000),
		activeConnections: activeConnections,
	}
	g.currentCPU.Store(0.0)
	g.currentMemory.Store(int64(0))
	return g
}

// ShouldAcceptConnection applies the hard connection cap, the CPU
// emergency brake, the memory emergency brake (skipped when
// MemoryLimit is not positive) and the goroutine limit, in that order,
// matching the teacher's check ordering so the cheapest check runs
// first.
func (g *Guard) ShouldAcceptConnection() (accept bool, reason string) {
	current := g.activeConnections()
	if current >= int64(g.cfg.MaxConnections) {
		return false, fmt.Sprintf("at max connections (%d)", g.cfg.MaxConnections)
	}

	cpuPct := g.currentCPU.Load().(float64)
	if cpuPct > g.cfg.CPURejectThreshold {
		return false, fmt.Sprintf("CPU %.1f%% > %.1f%%", cpuPct, g.cfg.CPURejectThreshold)
	}

	if g.cfg.MemoryLimit > 0 {
		if mem := g.currentMemory.Load().(int64); mem > g.cfg.MemoryLimit {
			return false, fmt.Sprintf("memory %d > %d bytes", mem, g.cfg.MemoryLimit)
		}
	}

	goros := runtime.NumGoroutine()
	if goros > g.cfg.MaxGoroutines {
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", goros, g.cfg.MaxGoroutines)
	}

	return true, "OK"
}

// ShouldPauseUpstream reports whether the Upstream Feed Client should
// stop pulling ticks because CPU is critically high — a NATS-level
// equivalent of the teacher's ShouldPauseNATS.
func (g *Guard) ShouldPauseUpstream() bool {
	return g.currentCPU.Load().(float64) > g.cfg.CPUPauseThreshold
}

// AllowTick rate-limits upstream tick consumption so a burst from the
// feed cannot overrun the session fan-out faster than it can drain.
func (g *Guard) AllowTick() bool {
	return g.tickLimiter.Allow()
}

// UpdateResources samples CPU and memory; call this on a fixed
// interval (e.g. the configured MetricsInterval) to keep the guard's
// view of resource state current.
func (g *Guard) UpdateResources(ctx context.Context) {
	pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to sample CPU usage")
	} else if len(pct) > 0 {
		g.currentCPU.Store(pct[0])
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.currentMemory.Store(int64(mem.Alloc))
}

// StartMonitoring runs UpdateResources on a ticker until ctx is done.
func (g *Guard) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.UpdateResources(ctx)
		}
	}
}

// CurrentCPU returns the most recently sampled CPU percentage.
func (g *Guard) CurrentCPU() float64 {
	return g.currentCPU.Load().(float64)
}

// CurrentMemory returns the most recently sampled allocated heap
// (runtime.MemStats.Alloc), in bytes.
func (g *Guard) CurrentMemory() int64 {
	return g.currentMemory.Load().(int64)
}
