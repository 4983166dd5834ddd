package antinuke

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Capabilities are the platform calls the engine delegates to.
type Capabilities struct {
	Moderator Moderator
	Restorer  Restorer
}

type EngineOptions struct {
	Policy           Policy
	Exemptions       []Exemption
	Snapshots        []ServerSnapshot
	SnapshotCapacity int
	Capabilities     Capabilities
	Logger           *zap.Logger
}

// Engine tracks violations for a single guild. It owns the counters, the
// exemption registry and the restoration log for that guild.
type Engine struct {
	guildID string

	mu        sync.Mutex
	policy    Policy
	protected ProtectedSet
	held      map[counterKey]time.Time

	counter    *Counter
	exemptions *ExemptionRegistry
	snapshots  *RestorationLog
	caps       Capabilities
	clock      Clock
	logger     *zap.Logger
}

func NewEngine(guildID string, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	snapshots := NewRestorationLog(opts.SnapshotCapacity)
	snapshots.Load(opts.Snapshots)
	return &Engine{
		guildID:    guildID,
		policy:     opts.Policy.Clone(),
		protected:  NewProtectedSet(opts.Policy.Protected),
		held:       make(map[counterKey]time.Time),
		counter:    NewCounter(),
		exemptions: NewExemptionRegistry(opts.Exemptions),
		snapshots:  snapshots,
		caps:       opts.Capabilities,
		clock:      realClock{},
		logger:     logger.With(zap.String("guild_id", guildID)),
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

func (e *Engine) GuildID() string {
	return e.guildID
}

// Handle runs one event through the gates: exemption, protection,
// containment, counters, evaluation and escalation. It never panics; an
// internal failure degrades to a quiet decision.
func (e *Engine) Handle(ctx context.Context, event Event) (decision Decision) {
	key := ActorKey{GuildID: e.guildID, ActorID: event.ActorID}
	decision = Decision{Verdict: VerdictQuiet, Key: key, Action: event.Action}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("antinuke pipeline panic",
				zap.String("user_id", key.ActorID),
				zap.String("action", string(event.Action)),
				zap.Any("panic", r),
			)
			decision = Decision{Verdict: VerdictQuiet, Key: key, Action: event.Action}
		}
	}()

	now := event.Timestamp
	if now.IsZero() {
		now = e.clock.Now()
	}

	e.mu.Lock()
	policy := e.policy
	if !policy.Enabled || event.ActorID == "" {
		e.mu.Unlock()
		decision.Verdict = VerdictIgnored
		return decision
	}
	if e.exemptions.IsExempt(event.ActorID, now) {
		e.mu.Unlock()
		decision.Verdict = VerdictExempt
		return decision
	}

	rule, hasRule := policy.Rule(event.Action)

	if event.Action.IsDelete() && CheckProtected(event.ResourceID, event.ResourceType, e.protected) {
		level := policy.ProtectedLevel(event.ResourceType)
		if hasRule {
			e.holdLocked(key, event.Action, now.Add(policy.ContainFor(rule)))
		}
		e.mu.Unlock()

		reason := fmt.Sprintf("anti-nuke: deleted protected %s %s", event.ResourceType, event.ResourceID)
		outcome := Punish(ctx, e.caps.Moderator, key, level, policy.Escalation, event.Action, reason, now)
		e.logOutcome(outcome)
		decision.Verdict = VerdictProtected
		decision.Level = outcome.Level
		decision.Punishment = &outcome

		restored, err := e.snapshots.Restore(ctx, e.caps.Restorer, e.guildID, event.ResourceID, event.ResourceType, now)
		decision.Restoration = restored
		decision.RestoreErr = err
		if err != nil {
			e.logger.Warn("restoration failed",
				zap.String("resource_id", event.ResourceID),
				zap.String("resource_type", string(event.ResourceType)),
				zap.Error(err),
			)
		}
		return decision
	}

	// Only the action type that tripped is held; other types keep counting.
	held := counterKey{actor: key, action: event.Action}
	if until, ok := e.held[held]; ok {
		if now.Before(until) {
			e.mu.Unlock()
			decision.Verdict = VerdictContained
			decision.Revert = event.Action.IsCreate()
			return decision
		}
		delete(e.held, held)
	}

	if !hasRule {
		e.mu.Unlock()
		return decision
	}

	e.counter.Record(key, event.Action, now)
	evaluation := Evaluate(e.counter, key, event.Action, rule, now)
	decision.Count = evaluation.Count
	decision.Limit = rule.Limit
	if !evaluation.Tripped {
		e.mu.Unlock()
		return decision
	}

	level := policy.SeverityFor(event.Action)
	e.holdLocked(key, event.Action, now.Add(policy.ContainFor(rule)))
	e.mu.Unlock()

	reason := fmt.Sprintf("anti-nuke: %s limit reached (%d in %s)", event.Action, evaluation.Count, rule.Window)
	outcome := Punish(ctx, e.caps.Moderator, key, level, policy.Escalation, event.Action, reason, now)
	e.logOutcome(outcome)

	e.mu.Lock()
	e.counter.Reset(key, event.Action)
	e.mu.Unlock()

	decision.Verdict = VerdictTripped
	decision.Level = outcome.Level
	decision.Revert = event.Action.IsCreate()
	decision.Punishment = &outcome
	return decision
}

func (e *Engine) holdLocked(key ActorKey, action ActionType, until time.Time) {
	held := counterKey{actor: key, action: action}
	if current, ok := e.held[held]; ok && current.After(until) {
		return
	}
	e.held[held] = until
}

func (e *Engine) logOutcome(outcome PunishmentOutcome) {
	fields := []zap.Field{
		zap.String("incident_id", outcome.IncidentID),
		zap.String("user_id", outcome.ActorID),
		zap.String("action", string(outcome.Action)),
		zap.Int("level", int(outcome.Level)),
		zap.String("trigger", string(outcome.Trigger)),
	}
	if outcome.Failed() {
		e.logger.Warn("punishment failed", append(fields, zap.Error(outcome.Err))...)
		return
	}
	e.logger.Info("punishment applied", fields...)
}

// Held reports whether the actor is still contained for an action type
// after tripping it.
func (e *Engine) Held(actorID string, action ActionType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.held[counterKey{actor: ActorKey{GuildID: e.guildID, ActorID: actorID}, action: action}]
	return ok && e.clock.Now().Before(until)
}

func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy.Clone()
}

// SetPolicy installs a new policy as a whole. Counters are kept.
func (e *Engine) SetPolicy(policy Policy) {
	installed := policy.Clone()
	protected := NewProtectedSet(installed.Protected)
	e.mu.Lock()
	e.policy = installed
	e.protected = protected
	e.mu.Unlock()
}

func (e *Engine) IsExempt(actorID string) bool {
	return e.exemptions.IsExempt(actorID, e.clock.Now())
}

func (e *Engine) AddPermanentExemption(actorID string) Exemption {
	return e.exemptions.AddPermanent(actorID)
}

func (e *Engine) AddTemporaryExemption(actorID string, duration time.Duration) Exemption {
	return e.exemptions.AddTemporary(actorID, duration, e.clock.Now())
}

func (e *Engine) RemoveExemption(actorID string) bool {
	return e.exemptions.Remove(actorID)
}

func (e *Engine) PurgeExemptions() int {
	return e.exemptions.Purge(e.clock.Now())
}

func (e *Engine) Exemptions() []Exemption {
	return e.exemptions.List()
}

// Counts reports the live window counts for an actor.
func (e *Engine) Counts(actorID string) map[ActionType]int {
	policy := e.Policy()
	key := ActorKey{GuildID: e.guildID, ActorID: actorID}
	return e.counter.Counts(key, e.clock.Now(), policy.Rules)
}

// CaptureSnapshot stamps and stores a snapshot, returning what was stored.
func (e *Engine) CaptureSnapshot(snapshot ServerSnapshot) ServerSnapshot {
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = e.clock.Now()
	}
	snapshot.GuildID = e.guildID
	e.snapshots.Capture(snapshot)
	return snapshot
}

// RebindSnapshots points the restoration log at a recreated resource.
func (e *Engine) RebindSnapshots(oldID, newID string) []ServerSnapshot {
	return e.snapshots.Rebind(oldID, newID)
}

func (e *Engine) Snapshots() []ServerSnapshot {
	return e.snapshots.Snapshots()
}

func (e *Engine) SnapshotCapacity() int {
	return e.snapshots.capacity
}
