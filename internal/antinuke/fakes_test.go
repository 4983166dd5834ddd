package antinuke

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

type moderatorCall struct {
	Action    Punishment
	GuildID   string
	UserID    string
	Duration  time.Duration
	Permanent bool
}

type fakeModerator struct {
	mu    sync.Mutex
	calls []moderatorCall
	err   error
}

func (f *fakeModerator) record(call moderatorCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeModerator) Calls() []moderatorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]moderatorCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeModerator) Warn(_ context.Context, guildID, userID, _ string) error {
	return f.record(moderatorCall{Action: PunishWarn, GuildID: guildID, UserID: userID})
}

func (f *fakeModerator) Mute(_ context.Context, guildID, userID string, duration time.Duration, _ string) error {
	return f.record(moderatorCall{Action: PunishMute, GuildID: guildID, UserID: userID, Duration: duration})
}

func (f *fakeModerator) Kick(_ context.Context, guildID, userID, _ string) error {
	return f.record(moderatorCall{Action: PunishKick, GuildID: guildID, UserID: userID})
}

func (f *fakeModerator) Ban(_ context.Context, guildID, userID, _ string, permanent bool) error {
	action := PunishBan
	if permanent {
		action = PunishPermaban
	}
	return f.record(moderatorCall{Action: action, GuildID: guildID, UserID: userID, Permanent: permanent})
}

type panicModerator struct{ fakeModerator }

func (p *panicModerator) Mute(context.Context, string, string, time.Duration, string) error {
	panic("mute exploded")
}

type fakeRestorer struct {
	recreated []ResourceSnapshot
	dropped   []string
	err       error
}

func (f *fakeRestorer) Recreate(_ context.Context, _ string, snapshot ResourceSnapshot) (string, []string, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	f.recreated = append(f.recreated, snapshot)
	return "new-" + snapshot.ID, f.dropped, nil
}

type memoryStore struct {
	mu         sync.Mutex
	policies   map[string]Policy
	exemptions map[string][]Exemption
	snapshots  map[string][]ServerSnapshot
	failSave   error
	policySave int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		policies:   make(map[string]Policy),
		exemptions: make(map[string][]Exemption),
		snapshots:  make(map[string][]ServerSnapshot),
	}
}

func (s *memoryStore) LoadPolicy(_ context.Context, guildID string) (Policy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy, ok := s.policies[guildID]
	return policy, ok, nil
}

func (s *memoryStore) SavePolicy(_ context.Context, guildID string, policy Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.policySave++
	s.policies[guildID] = policy.Clone()
	return nil
}

func (s *memoryStore) LoadExemptions(_ context.Context, guildID string) ([]Exemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exemption(nil), s.exemptions[guildID]...), nil
}

func (s *memoryStore) SaveExemptions(_ context.Context, guildID string, exemptions []Exemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.exemptions[guildID] = append([]Exemption(nil), exemptions...)
	return nil
}

func (s *memoryStore) LoadSnapshots(_ context.Context, guildID string) ([]ServerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServerSnapshot(nil), s.snapshots[guildID]...), nil
}

func (s *memoryStore) SaveSnapshot(_ context.Context, guildID string, snapshot ServerSnapshot, retain int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.snapshots[guildID]
	for i, stored := range list {
		if stored.CapturedAt.Equal(snapshot.CapturedAt) {
			list[i] = snapshot
			return nil
		}
	}
	list = append(list, snapshot)
	if len(list) > retain {
		list = list[len(list)-retain:]
	}
	s.snapshots[guildID] = list
	return nil
}

var errPlatform = errors.New("missing permissions")
