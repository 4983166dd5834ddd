package antinuke

import (
	"testing"
	"time"
)

func TestCounterUnknownKeyIsZero(t *testing.T) {
	counter := NewCounter()
	key := ActorKey{GuildID: "g1", ActorID: "u1"}
	if got := counter.CountRecent(key, ActionChannelCreate, time.Unix(100, 0), 10*time.Second); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestCounterScopesByActorAndAction(t *testing.T) {
	counter := NewCounter()
	base := time.Unix(1_000, 0)
	a := ActorKey{GuildID: "g1", ActorID: "a"}
	b := ActorKey{GuildID: "g1", ActorID: "b"}
	other := ActorKey{GuildID: "g2", ActorID: "a"}

	counter.Record(a, ActionChannelCreate, base)
	counter.Record(a, ActionChannelCreate, base.Add(time.Second))
	counter.Record(a, ActionRoleCreate, base)
	counter.Record(b, ActionChannelCreate, base)

	now := base.Add(2 * time.Second)
	if got := counter.CountRecent(a, ActionChannelCreate, now, 10*time.Second); got != 2 {
		t.Fatalf("expected 2 channel creates for a, got %d", got)
	}
	if got := counter.CountRecent(a, ActionRoleCreate, now, 10*time.Second); got != 1 {
		t.Fatalf("expected 1 role create for a, got %d", got)
	}
	if got := counter.CountRecent(other, ActionChannelCreate, now, 10*time.Second); got != 0 {
		t.Fatalf("expected other guild to be empty, got %d", got)
	}
}

func TestCounterPrunesAndResets(t *testing.T) {
	counter := NewCounter()
	base := time.Unix(1_000, 0)
	key := ActorKey{GuildID: "g1", ActorID: "u1"}
	counter.Record(key, ActionRoleDelete, base)
	counter.Record(key, ActionRoleDelete, base.Add(5*time.Second))

	if got := counter.CountRecent(key, ActionRoleDelete, base.Add(12*time.Second), 10*time.Second); got != 1 {
		t.Fatalf("expected 1 after pruning, got %d", got)
	}
	if got := counter.CountRecent(key, ActionRoleDelete, base.Add(30*time.Second), 10*time.Second); got != 0 {
		t.Fatalf("expected 0 after window, got %d", got)
	}
	if len(counter.windows) != 0 {
		t.Fatalf("expected empty windows to be released, got %d", len(counter.windows))
	}

	counter.Record(key, ActionRoleDelete, base)
	counter.Reset(key, ActionRoleDelete)
	if got := counter.CountRecent(key, ActionRoleDelete, base, 10*time.Second); got != 0 {
		t.Fatalf("expected 0 after reset, got %d", got)
	}
}

func TestCountRecentNeverIncreasesWithoutRecord(t *testing.T) {
	counter := NewCounter()
	base := time.Unix(1_000, 0)
	key := ActorKey{GuildID: "g1", ActorID: "u1"}
	for i := 0; i < 5; i++ {
		counter.Record(key, ActionMemberBan, base.Add(time.Duration(i)*2*time.Second))
	}

	previous := counter.CountRecent(key, ActionMemberBan, base.Add(8*time.Second), 10*time.Second)
	for step := 9; step < 25; step++ {
		got := counter.CountRecent(key, ActionMemberBan, base.Add(time.Duration(step)*time.Second), 10*time.Second)
		if got > previous {
			t.Fatalf("count increased from %d to %d at step %d", previous, got, step)
		}
		previous = got
	}
}

func TestCounterCountsSkipsEmptyActions(t *testing.T) {
	counter := NewCounter()
	base := time.Unix(1_000, 0)
	key := ActorKey{GuildID: "g1", ActorID: "u1"}
	counter.Record(key, ActionChannelDelete, base)

	counts := counter.Counts(key, base.Add(time.Second), DefaultPolicy().Rules)
	if len(counts) != 1 || counts[ActionChannelDelete] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
