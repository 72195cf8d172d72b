// Package backpressure watches how far exports trail ingestion and slows
// producers down before the ring overwrites samples that were never
// exported.
package backpressure

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/timering/internal/logging"
	"github.com/xtxerr/timering/internal/storage/config"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - exports keep up with ingestion.
	LevelNormal Level = iota

	// LevelWarning - lag is building, flush early and pause compaction.
	LevelWarning

	// LevelCritical - unexported samples are close to being overwritten,
	// throttle producers.
	LevelCritical

	// LevelEmergency - overwrite is imminent, throttle producers hard.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// LagSource reports export lag as the fraction of capacity holding samples
// not yet exported.
type LagSource interface {
	ExportLag() float64
}

// LagFunc adapts a function to LagSource.
type LagFunc func() float64

// ExportLag implements LagSource.
func (f LagFunc) ExportLag() float64 { return f() }

// Controller manages backpressure based on export lag.
type Controller struct {
	mu sync.RWMutex

	config *config.Config
	source LagSource
	now    func() time.Time

	// Current state
	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level
	lastLag   float64

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level)
}

// Stats holds backpressure statistics.
type Stats struct {
	Checks          int64
	LevelChanges    int64
	WarningCount    int64
	CriticalCount   int64
	EmergencyCount  int64
	ThrottledCalls  int64
	ThrottleSeconds float64
}

// New creates a new backpressure controller.
func New(cfg *config.Config, source LagSource) *Controller {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Controller{
		config: cfg,
		source: source,
		now:    time.Now,
	}
}

// SetOnLevelChange sets the callback for level changes. The callback runs
// with the controller locked and must not call back into it.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check evaluates current lag and updates the level.
// This should be called periodically.
func (c *Controller) Check() Level {
	if !c.config.Backpressure.Enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// Respect cooldown
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.config.Backpressure.Recovery.Cooldown {
		return Level(c.level.Load())
	}

	c.lastCheck = now
	c.stats.Checks++

	lag := c.source.ExportLag()
	c.lastLag = lag

	newLevel := c.determineLevel(lag)
	if newLevel != c.lastLevel {
		c.setLevel(newLevel)
	}

	return newLevel
}

// determineLevel determines the backpressure level based on lag. Rising
// pressure takes effect at once; falling pressure steps down one level per
// check and only below threshold-hysteresis.
func (c *Controller) determineLevel(lag float64) Level {
	thresholds := c.config.Backpressure.Thresholds
	hysteresis := c.config.Backpressure.Recovery.Hysteresis
	currentLevel := c.lastLevel

	if lag >= thresholds.Emergency {
		return LevelEmergency
	}
	if lag >= thresholds.Critical && currentLevel <= LevelCritical {
		return LevelCritical
	}
	if lag >= thresholds.Warning && currentLevel <= LevelWarning {
		return LevelWarning
	}

	switch currentLevel {
	case LevelEmergency:
		if lag < thresholds.Emergency-hysteresis {
			return LevelCritical
		}
		return LevelEmergency
	case LevelCritical:
		if lag < thresholds.Critical-hysteresis {
			return LevelWarning
		}
		return LevelCritical
	case LevelWarning:
		if lag < thresholds.Warning-hysteresis {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// setLevel updates the current level and fires callback.
func (c *Controller) setLevel(newLevel Level) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel)
	}
}

// Run calls Check every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	logger := logging.Component("backpressure")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if level := c.Check(); level >= LevelCritical {
				logger.Debug("export lag high", "level", level, "lag", c.Lag())
			}
		}
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// Lag returns the lag seen by the last evaluated check.
func (c *Controller) Lag() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastLag
}

// ShouldFlush returns true if an export should be triggered early.
func (c *Controller) ShouldFlush() bool {
	return c.CurrentLevel() >= LevelWarning
}

// ShouldThrottle returns true if producers should be throttled.
func (c *Controller) ShouldThrottle() bool {
	return c.CurrentLevel() >= LevelCritical
}

// ShouldPauseCompaction returns true if compaction should be paused.
func (c *Controller) ShouldPauseCompaction() bool {
	return c.CurrentLevel() >= LevelWarning
}

// ThrottleFactor returns the throttle factor (0.0 to 1.0).
// 1.0 = no throttling.
func (c *Controller) ThrottleFactor() float64 {
	switch c.CurrentLevel() {
	case LevelNormal:
		return 1.0
	case LevelWarning:
		return 0.9
	case LevelCritical:
		return 0.5
	case LevelEmergency:
		return 0.1
	default:
		return 1.0
	}
}

// ThrottleDelay returns the recommended delay before the next batch. It is
// 0 below LevelCritical.
func (c *Controller) ThrottleDelay() time.Duration {
	if !c.ShouldThrottle() {
		return 0
	}

	// Max delay of 100ms at emergency level
	maxDelay := 100 * time.Millisecond
	delay := time.Duration(float64(maxDelay) * (1.0 - c.ThrottleFactor()))

	c.mu.Lock()
	c.stats.ThrottledCalls++
	c.stats.ThrottleSeconds += delay.Seconds()
	c.mu.Unlock()

	return delay
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ControllerStats{
		CurrentLevel:    c.CurrentLevel(),
		Checks:          c.stats.Checks,
		LevelChanges:    c.stats.LevelChanges,
		WarningCount:    c.stats.WarningCount,
		CriticalCount:   c.stats.CriticalCount,
		EmergencyCount:  c.stats.EmergencyCount,
		ThrottledCalls:  c.stats.ThrottledCalls,
		ThrottleSeconds: c.stats.ThrottleSeconds,
		ExportLag:       c.lastLag,
	}
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel    Level
	Checks          int64
	LevelChanges    int64
	WarningCount    int64
	CriticalCount   int64
	EmergencyCount  int64
	ThrottledCalls  int64
	ThrottleSeconds float64
	ExportLag       float64
}

// IsEnabled returns whether backpressure is enabled.
func (c *Controller) IsEnabled() bool {
	return c.config.Backpressure.Enabled
}
