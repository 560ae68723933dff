// Package metrics provides Prometheus instrumentation and process health
// collection for the engine.
//
// # Contents
//
//   - Metrics: counters, gauges and histograms on a dedicated registry;
//     implements the engine's Recorder
//   - Collector: process CPU and memory via gopsutil, plus the state of the
//     optional audit store and snapshot cache, for the infrastructure
//     health endpoint
package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/pilot-net/selfheal/pkg/types"
)

// PoolStatsProvider reports database pool statistics.
type PoolStatsProvider interface {
	Ping(ctx context.Context) error
	GetPoolStats() types.PoolStats
}

// CacheStatsProvider reports snapshot cache statistics.
type CacheStatsProvider interface {
	Stats(ctx context.Context) types.CacheHealth
}

// EngineHealthProvider reports engine state.
type EngineHealthProvider interface {
	Health() types.EngineHealth
}

// Collector gathers infrastructure metrics with caching.
type Collector struct {
	engine EngineHealthProvider
	db     PoolStatsProvider  // may be nil if the audit store is disabled
	cache  CacheStatsProvider // may be nil if the cache is disabled

	startTime time.Time

	// Cached values with TTL
	mu            sync.RWMutex
	cachedProcess *types.ProcessHealth
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a new metrics collector. db and cache may be nil.
func NewCollector(engine EngineHealthProvider, db PoolStatsProvider, cache CacheStatsProvider) *Collector {
	return &Collector{
		engine:        engine,
		db:            db,
		cache:         cache,
		startTime:     time.Now(),
		cacheDuration: 10 * time.Second,
	}
}

// GetInfrastructureHealth returns the current infrastructure health metrics.
// Process metrics are cached for 10 seconds since sampling CPU is not free.
func (c *Collector) GetInfrastructureHealth(ctx context.Context) *types.InfrastructureHealth {
	health := &types.InfrastructureHealth{
		Timestamp: time.Now(),
		Process:   c.processHealth(),
		Database:  c.collectDatabaseHealth(ctx),
		Cache:     c.collectCacheHealth(ctx),
	}
	if c.engine != nil {
		health.Engine = c.engine.Health()
	}
	return health
}

func (c *Collector) processHealth() types.ProcessHealth {
	c.mu.RLock()
	if c.cachedProcess != nil && time.Now().Before(c.cacheExpiry) {
		h := *c.cachedProcess
		c.mu.RUnlock()
		return h
	}
	c.mu.RUnlock()

	h := c.collectProcessHealth()

	c.mu.Lock()
	c.cachedProcess = &h
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	return h
}

func (c *Collector) collectProcessHealth() types.ProcessHealth {
	health := types.ProcessHealth{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	// Get process metrics using gopsutil
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		// CPU percent (since process start)
		if cpu, err := proc.CPUPercent(); err == nil {
			health.CPUPercent = cpu
		}

		// Memory info
		if mem, err := proc.MemoryInfo(); err == nil {
			health.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}

		// Memory percent
		if memPct, err := proc.MemoryPercent(); err == nil {
			health.MemoryPercent = float64(memPct)
		}
	}

	// Determine status based on metrics
	if health.MemoryPercent > 90 || health.CPUPercent > 90 {
		health.Status = "degraded"
	}

	return health
}

func (c *Collector) collectDatabaseHealth(ctx context.Context) types.DatabaseHealth {
	if c.db == nil {
		return types.DatabaseHealth{Enabled: false, Status: "disabled"}
	}

	health := types.DatabaseHealth{
		Enabled: true,
		Status:  "healthy",
		Pool:    c.db.GetPoolStats(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.db.Ping(pingCtx); err != nil {
		health.Status = "error"
		return health
	}

	// Check pool health
	if health.Pool.MaxConnections > 2 && health.Pool.AcquiredConnections >= health.Pool.MaxConnections-2 {
		health.Status = "degraded"
	}
	return health
}

func (c *Collector) collectCacheHealth(ctx context.Context) types.CacheHealth {
	if c.cache == nil {
		return types.CacheHealth{Enabled: false}
	}
	return c.cache.Stats(ctx)
}
