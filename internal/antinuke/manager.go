package antinuke

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists per-guild policy, exemptions and snapshots keyed by guild ID.
type Store interface {
	LoadPolicy(ctx context.Context, guildID string) (Policy, bool, error)
	SavePolicy(ctx context.Context, guildID string, policy Policy) error
	LoadExemptions(ctx context.Context, guildID string) ([]Exemption, error)
	SaveExemptions(ctx context.Context, guildID string, exemptions []Exemption) error
	LoadSnapshots(ctx context.Context, guildID string) ([]ServerSnapshot, error)
	SaveSnapshot(ctx context.Context, guildID string, snapshot ServerSnapshot, retain int) error
}

// Observer receives every decision and captured snapshot.
type Observer interface {
	ObserveDecision(decision Decision)
	ObserveSnapshot(guildID string)
}

// Archiver keeps punishment outcomes beyond the in-memory engine.
type Archiver interface {
	ArchiveOutcome(ctx context.Context, outcome PunishmentOutcome) error
}

// Archivers fans an outcome out to several archivers and joins their errors.
type Archivers []Archiver

func (a Archivers) ArchiveOutcome(ctx context.Context, outcome PunishmentOutcome) error {
	var errs []error
	for _, archiver := range a {
		if err := archiver.ArchiveOutcome(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type ManagerOptions struct {
	Defaults         Policy
	SnapshotCapacity int
	Capabilities     Capabilities
	Observer         Observer
	Archiver         Archiver
	Logger           *zap.Logger
}

// Manager owns one engine per guild and persists admin mutations.
type Manager struct {
	store Store
	opts  ManagerOptions
	clock Clock

	mu      sync.Mutex
	engines map[string]*Engine

	updateMu sync.Mutex
	logger   *zap.Logger
}

func NewManager(store Store, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Defaults.Escalation == nil {
		opts.Defaults = DefaultPolicy()
	}
	if opts.SnapshotCapacity <= 0 {
		opts.SnapshotCapacity = DefaultSnapshotCapacity
	}
	return &Manager{
		store:   store,
		opts:    opts,
		clock:   realClock{},
		engines: make(map[string]*Engine),
		logger:  logger,
	}
}

// WithClock sets the clock for the manager and every engine it builds.
func (m *Manager) WithClock(clock Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	for _, engine := range m.engines {
		engine.WithClock(clock)
	}
}

// Engine returns the guild's engine, loading it from the store on first use.
// A guild without a stored policy runs on the defaults.
func (m *Manager) Engine(ctx context.Context, guildID string) (*Engine, error) {
	if guildID == "" {
		return nil, errors.New("antinuke: guild id is required")
	}
	m.mu.Lock()
	engine, ok := m.engines[guildID]
	m.mu.Unlock()
	if ok {
		return engine, nil
	}

	// Store reads run unlocked so a slow guild never stalls the others.
	policy, err := m.loadPolicy(ctx, guildID)
	if err != nil && !errors.Is(err, ErrConfigurationMissing) {
		return nil, err
	}
	exemptions, err := m.store.LoadExemptions(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load exemptions: %w", err)
	}
	snapshots, err := m.store.LoadSnapshots(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	loaded := NewEngine(guildID, EngineOptions{
		Policy:           policy,
		Exemptions:       exemptions,
		Snapshots:        snapshots,
		SnapshotCapacity: m.opts.SnapshotCapacity,
		Capabilities:     m.opts.Capabilities,
		Logger:           m.logger,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.engines[guildID]; ok {
		return existing, nil
	}
	loaded.WithClock(m.clock)
	m.engines[guildID] = loaded
	return loaded, nil
}

func (m *Manager) loadPolicy(ctx context.Context, guildID string) (Policy, error) {
	stored, found, err := m.store.LoadPolicy(ctx, guildID)
	if err != nil {
		return Policy{}, fmt.Errorf("load policy: %w", err)
	}
	if !found {
		m.logger.Debug("using default policy", zap.String("guild_id", guildID))
		return m.opts.Defaults.Clone(), ErrConfigurationMissing
	}
	policy := stored.Normalize(m.opts.Defaults)
	if err := policy.Validate(); err != nil {
		m.logger.Warn("stored policy invalid, using defaults", zap.String("guild_id", guildID), zap.Error(err))
		return m.opts.Defaults.Clone(), ErrConfigurationMissing
	}
	return policy, nil
}

// Handle routes an event to its guild's engine. A guild whose state cannot be
// loaded is ignored rather than failing the event pipeline.
func (m *Manager) Handle(ctx context.Context, event Event) Decision {
	engine, err := m.Engine(ctx, event.GuildID)
	if err != nil {
		m.logger.Error("load guild engine", zap.String("guild_id", event.GuildID), zap.Error(err))
		decision := Decision{
			Verdict: VerdictIgnored,
			Key:     ActorKey{GuildID: event.GuildID, ActorID: event.ActorID},
			Action:  event.Action,
		}
		m.observe(decision)
		return decision
	}
	decision := engine.Handle(ctx, event)
	m.observe(decision)
	if decision.Restoration != nil {
		m.rebindRestored(ctx, engine, decision.Restoration)
	}
	if decision.Punishment != nil && m.opts.Archiver != nil {
		if err := m.opts.Archiver.ArchiveOutcome(ctx, *decision.Punishment); err != nil {
			m.logger.Warn("archive punishment outcome", zap.String("incident_id", decision.Punishment.IncidentID), zap.Error(err))
		}
	}
	return decision
}

// rebindRestored carries protection and snapshot history over to the
// resource that replaced a deleted one, so a second deletion is caught too.
func (m *Manager) rebindRestored(ctx context.Context, engine *Engine, restored *RestoredResource) {
	oldID, newID := restored.Snapshot.ID, restored.NewID
	if newID == "" || newID == oldID {
		return
	}
	guildID := engine.GuildID()
	fields := []zap.Field{zap.String("guild_id", guildID), zap.String("resource_id", oldID), zap.String("new_id", newID)}

	if _, moved := engine.Policy().WithProtectedRebound(oldID, newID); moved {
		_, err := m.UpdatePolicy(ctx, guildID, func(p Policy) (Policy, error) {
			next, _ := p.WithProtectedRebound(oldID, newID)
			return next, nil
		})
		if err != nil {
			m.logger.Warn("rebind protected resource", append(fields, zap.Error(err))...)
		}
	}
	for _, snapshot := range engine.RebindSnapshots(oldID, newID) {
		if err := m.store.SaveSnapshot(ctx, guildID, snapshot, engine.SnapshotCapacity()); err != nil {
			m.logger.Warn("persist rebound snapshot", append(fields, zap.Error(err))...)
		}
	}
}

func (m *Manager) observe(decision Decision) {
	if m.opts.Observer != nil {
		m.opts.Observer.ObserveDecision(decision)
	}
}

func (m *Manager) Policy(ctx context.Context, guildID string) (Policy, error) {
	engine, err := m.Engine(ctx, guildID)
	if err != nil {
		return Policy{}, err
	}
	return engine.Policy(), nil
}

// UpdatePolicy applies mutate to a copy of the current policy, validates the
// result, persists it and only then installs it in the engine.
func (m *Manager) UpdatePolicy(ctx context.Context, guildID string, mutate func(Policy) (Policy, error)) (Policy, error) {
	engine, err := m.Engine(ctx, guildID)
	if err != nil {
		return Policy{}, err
	}
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	next, err := mutate(engine.Policy())
	if err != nil {
		return Policy{}, err
	}
	next.Version = PolicyVersion
	if err := next.Validate(); err != nil {
		return Policy{}, err
	}
	if err := m.store.SavePolicy(ctx, guildID, next); err != nil {
		return Policy{}, fmt.Errorf("save policy: %w", err)
	}
	engine.SetPolicy(next)
	return next, nil
}

func (m *Manager) SetEnabled(ctx context.Context, guildID string, enabled bool) (Policy, error) {
	return m.UpdatePolicy(ctx, guildID, func(p Policy) (Policy, error) {
		p.Enabled = enabled
		return p, nil
	})
}

func (m *Manager) SetLogChannel(ctx context.Context, guildID, channelID string) (Policy, error) {
	return m.UpdatePolicy(ctx, guildID, func(p Policy) (Policy, error) {
		p.LogChannelID = channelID
		return p, nil
	})
}

// SetRule rejects a non-positive limit or window with ErrInvalidRuleConfig.
func (m *Manager) SetRule(ctx context.Context, guildID string, action ActionType, rule RuleConfig) (Policy, error) {
	return m.UpdatePolicy(ctx, guildID, func(p Policy) (Policy, error) {
		return p.WithRule(action, rule)
	})
}

func (m *Manager) Protect(ctx context.Context, guildID string, resource ProtectedResource) (Policy, error) {
	return m.UpdatePolicy(ctx, guildID, func(p Policy) (Policy, error) {
		return p.WithProtected(resource), nil
	})
}

func (m *Manager) Unprotect(ctx context.Context, guildID, resourceID string) (bool, error) {
	removed := false
	_, err := m.UpdatePolicy(ctx, guildID, func(p Policy) (Policy, error) {
		next, ok := p.WithoutProtected(resourceID)
		removed = ok
		return next, nil
	})
	return removed, err
}

// AddExemption grants a permanent exemption when duration is zero and a
// temporary one otherwise.
func (m *Manager) AddExemption(ctx context.Context, guildID, actorID string, duration time.Duration) (Exemption, error) {
	engine, err := m.Engine(ctx, guildID)
	if err != nil {
		return Exemption{}, err
	}
	var exemption Exemption
	if duration == 0 {
		exemption = engine.AddPermanentExemption(actorID)
	} else {
		exemption = engine.AddTemporaryExemption(actorID, duration)
	}
	if err := m.persistExemptions(ctx, engine); err != nil {
		return exemption, err
	}
	return exemption, nil
}

func (m *Manager) RemoveExemption(ctx context.Context, guildID, actorID string) (bool, error) {
	engine, err := m.Engine(ctx, guildID)
	if err != nil {
		return false, err
	}
	removed := engine.RemoveExemption(actorID)
	if !removed {
		return false, nil
	}
	return true, m.persistExemptions(ctx, engine)
}

// Exemptions lists the guild's exemptions after dropping expired ones.
func (m *Manager) Exemptions(ctx context.Context, guildID string) ([]Exemption, error) {
	engine, err := m.Engine(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if engine.PurgeExemptions() > 0 {
		if err := m.persistExemptions(ctx, engine); err != nil {
			return nil, err
		}
	}
	return engine.Exemptions(), nil
}

func (m *Manager) persistExemptions(ctx context.Context, engine *Engine) error {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	if err := m.store.SaveExemptions(ctx, engine.GuildID(), engine.Exemptions()); err != nil {
		return fmt.Errorf("save exemptions: %w", err)
	}
	return nil
}

func (m *Manager) Counts(ctx context.Context, guildID, actorID string) (map[ActionType]int, error) {
	engine, err := m.Engine(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return engine.Counts(actorID), nil
}

// CaptureSnapshot adds the snapshot to the guild's ring and flushes it to the
// store so restoration survives a restart.
func (m *Manager) CaptureSnapshot(ctx context.Context, snapshot ServerSnapshot) error {
	engine, err := m.Engine(ctx, snapshot.GuildID)
	if err != nil {
		return err
	}
	latest := engine.CaptureSnapshot(snapshot)
	if err := m.store.SaveSnapshot(ctx, snapshot.GuildID, latest, engine.SnapshotCapacity()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if m.opts.Observer != nil {
		m.opts.Observer.ObserveSnapshot(snapshot.GuildID)
	}
	return nil
}

// Guilds lists the guilds with a loaded engine.
func (m *Manager) Guilds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	guilds := make([]string, 0, len(m.engines))
	for guildID := range m.engines {
		guilds = append(guilds, guildID)
	}
	sort.Strings(guilds)
	return guilds
}
