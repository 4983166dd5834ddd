// Package playbook locks a guild down after a severe anti-nuke decision and
// lifts the lockdown once it expires.
package playbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aegis-community/internal/antinuke"
	"aegis-community/internal/modules/audit"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

// Locker applies and lifts the platform side of a lockdown.
type Locker interface {
	Lock(ctx context.Context, guildID string) error
	Unlock(ctx context.Context, guildID string) error
}

type Config struct {
	Enabled  bool
	MinLevel antinuke.Level
	Duration time.Duration
}

type State struct {
	Lockdown bool
	Reason   string
	Since    time.Time
	Until    time.Time
}

type guildState struct {
	State
	timer Timer
}

type Engine struct {
	mu     sync.Mutex
	cfg    Config
	clock  Clock
	locker Locker
	audit  *audit.Logger
	logger *zap.Logger
	states map[string]*guildState
}

func New(cfg Config, locker Locker, auditLogger *audit.Logger, logger *zap.Logger) *Engine {
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Minute
	}
	if cfg.MinLevel < antinuke.LevelMin {
		cfg.MinLevel = antinuke.LevelMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		clock:  realClock{},
		locker: locker,
		audit:  auditLogger,
		logger: logger,
		states: make(map[string]*guildState),
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

// Warrants reports whether a decision is severe enough to lock the guild:
// any protected-resource hit, or a trip escalated to at least MinLevel.
func (e *Engine) Warrants(decision antinuke.Decision) bool {
	if !e.cfg.Enabled {
		return false
	}
	switch decision.Verdict {
	case antinuke.VerdictProtected:
		return true
	case antinuke.VerdictTripped:
		return decision.Level >= e.cfg.MinLevel
	default:
		return false
	}
}

// Consider locks the decision's guild when the decision warrants it.
func (e *Engine) Consider(ctx context.Context, decision antinuke.Decision) bool {
	if !e.Warrants(decision) {
		return false
	}
	reason := fmt.Sprintf("verdict=%s action=%s level=%d actor=%s", decision.Verdict, decision.Action, decision.Level, decision.Key.ActorID)
	return e.Trigger(ctx, decision.Key.GuildID, reason)
}

// Trigger locks the guild and schedules the release. It reports false when
// the guild is already locked.
func (e *Engine) Trigger(ctx context.Context, guildID, reason string) bool {
	now := e.clock.Now()
	e.mu.Lock()
	state := e.stateLocked(guildID)
	if state.Lockdown {
		e.mu.Unlock()
		return false
	}
	state.State = State{Lockdown: true, Reason: reason, Since: now, Until: now.Add(e.cfg.Duration)}
	state.timer = e.clock.AfterFunc(e.cfg.Duration, func() {
		e.Release(context.Background(), guildID, "expired")
	})
	e.mu.Unlock()

	// A partial lock still gets released on schedule.
	if err := e.locker.Lock(ctx, guildID); err != nil {
		e.logger.Warn("lockdown incomplete", zap.String("guild_id", guildID), zap.Error(err))
		e.log(ctx, audit.LevelWarn, guildID, audit.EventLockdownFail, fmt.Sprintf("error=%q", err.Error()))
	}
	e.logger.Info("lockdown started", zap.String("guild_id", guildID), zap.String("reason", reason), zap.Duration("duration", e.cfg.Duration))
	e.log(ctx, audit.LevelCrit, guildID, audit.EventLockdown, fmt.Sprintf("%s minutes=%d", reason, int(e.cfg.Duration/time.Minute)))
	return true
}

// Release lifts a lockdown early or on expiry. It reports false when the
// guild was not locked.
func (e *Engine) Release(ctx context.Context, guildID, reason string) bool {
	e.mu.Lock()
	state := e.states[guildID]
	if state == nil || !state.Lockdown {
		e.mu.Unlock()
		return false
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	delete(e.states, guildID)
	e.mu.Unlock()

	if err := e.locker.Unlock(ctx, guildID); err != nil {
		e.logger.Warn("lockdown release incomplete", zap.String("guild_id", guildID), zap.Error(err))
		e.log(ctx, audit.LevelWarn, guildID, audit.EventLockdownFail, fmt.Sprintf("release=true error=%q", err.Error()))
	}
	e.logger.Info("lockdown ended", zap.String("guild_id", guildID), zap.String("reason", reason))
	e.log(ctx, audit.LevelInfo, guildID, audit.EventLockdownEnded, "reason="+reason)
	return true
}

func (e *Engine) State(guildID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.states[guildID]
	if state == nil {
		return State{}
	}
	return state.State
}

func (e *Engine) log(ctx context.Context, level, guildID, event, details string) {
	if e.audit != nil {
		e.audit.Log(ctx, level, guildID, "", event, details)
	}
}

func (e *Engine) stateLocked(guildID string) *guildState {
	state := e.states[guildID]
	if state == nil {
		state = &guildState{}
		e.states[guildID] = state
	}
	return state
}
