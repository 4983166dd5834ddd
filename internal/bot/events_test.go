package bot

import (
	"context"
	"slices"
	"strconv"
	"testing"
	"time"

	"aegis-community/internal/antinuke"
	"aegis-community/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
)

func createChannel(b testBot, at time.Time, actorID, channelID string) (antinuke.Decision, bool) {
	b.api.addAuditEntry(discordgo.AuditLogActionChannelCreate, auditEntry(at, actorID, channelID))
	channel := &discordgo.Channel{ID: channelID, GuildID: "g1", Type: discordgo.ChannelTypeGuildText}
	return b.process(context.Background(), channelEvent(channel, antinuke.ActionChannelCreate), discordgo.AuditLogActionChannelCreate)
}

func TestChannelCreateBurstTripsAndReverts(t *testing.T) {
	b := newTestBot(t)
	now := time.Now()
	b.now = func() time.Time { return now }

	var decisions []antinuke.Decision
	for i := 1; i <= 4; i++ {
		decision, ok := createChannel(b, now.Add(time.Duration(i)*time.Millisecond), "nuker", "c"+strconv.Itoa(i))
		if !ok {
			t.Fatalf("event %d never reached the engine", i)
		}
		decisions = append(decisions, decision)
	}

	if decisions[0].Verdict != antinuke.VerdictQuiet || decisions[1].Verdict != antinuke.VerdictQuiet {
		t.Fatalf("expected quiet before the limit, got %s %s", decisions[0].Verdict, decisions[1].Verdict)
	}
	if decisions[2].Verdict != antinuke.VerdictTripped || decisions[2].Level != 2 {
		t.Fatalf("expected trip at level 2, got %+v", decisions[2])
	}
	if decisions[3].Verdict != antinuke.VerdictContained {
		t.Fatalf("expected containment after trip, got %s", decisions[3].Verdict)
	}
	if len(b.api.timeouts) != 1 || b.api.timeouts[0].userID != "nuker" {
		t.Fatalf("expected exactly one mute, got %+v", b.api.timeouts)
	}
	if !slices.Equal(b.api.deletedChans, []string{"c3", "c4"}) {
		t.Fatalf("expected tripped and contained channels reverted, got %v", b.api.deletedChans)
	}

	logs, err := b.store.ListAuditLogs(context.Background(), "g1", time.Time{})
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	events := make([]string, 0, len(logs))
	for _, log := range logs {
		events = append(events, log.Event)
	}
	if !slices.Contains(events, audit.EventTrip) || !slices.Contains(events, audit.EventContained) {
		t.Fatalf("expected trip and containment audit entries, got %v", events)
	}

	record, err := b.store.GetViolations(context.Background(), "g1", "nuker")
	if err != nil {
		t.Fatalf("violations: %v", err)
	}
	if record.CountTotal != 1 {
		t.Fatalf("expected one archived punishment, got %d", record.CountTotal)
	}
}

func TestOwnerAndSelfAreImplicitlyExempt(t *testing.T) {
	b := newTestBot(t)
	now := time.Now()
	b.now = func() time.Time { return now }

	for i, actor := range []string{"owner", "aegis"} {
		if _, ok := createChannel(b, now, actor, "c"+strconv.Itoa(i)); ok {
			t.Fatalf("%s must not reach the engine", actor)
		}
	}
	counts, err := b.manager.Counts(context.Background(), "g1", "owner")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[antinuke.ActionChannelCreate] != 0 {
		t.Fatalf("owner actions must not be counted")
	}
}

func TestStaleAuditEntryIsIgnored(t *testing.T) {
	b := newTestBot(t)
	now := time.Now()
	b.now = func() time.Time { return now }

	if _, ok := createChannel(b, now.Add(-time.Minute), "nuker", "c1"); ok {
		t.Fatalf("entries older than the lookback must not attribute events")
	}
}

func TestAuditEntryExplainsOneEvent(t *testing.T) {
	b := newTestBot(t)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.api.addAuditEntry(discordgo.AuditLogActionRoleUpdate, auditEntry(now, "mod", "r1"))
	event := roleEvent("g1", "r1", antinuke.ActionRoleUpdate)
	if _, ok := b.process(context.Background(), event, discordgo.AuditLogActionRoleUpdate); !ok {
		t.Fatalf("first event should be attributed")
	}
	if _, ok := b.process(context.Background(), event, discordgo.AuditLogActionRoleUpdate); ok {
		t.Fatalf("a claimed entry must not attribute a second event")
	}
}

func TestLeaveWithoutKickEntryIsIgnored(t *testing.T) {
	b := newTestBot(t)
	event := antinuke.Event{GuildID: "g1", Action: antinuke.ActionMemberKick, ResourceID: "member"}
	if _, ok := b.process(context.Background(), event, discordgo.AuditLogActionMemberKick); ok {
		t.Fatalf("a voluntary leave is not a kick")
	}
}

func TestWebhookBurstUsesAuditTarget(t *testing.T) {
	b := newTestBot(t)
	now := time.Now()
	b.now = func() time.Time { return now }

	var last antinuke.Decision
	for i := 1; i <= 3; i++ {
		b.api.addAuditEntry(discordgo.AuditLogActionWebhookCreate, auditEntry(now.Add(time.Duration(i)*time.Millisecond), "nuker", "w"+strconv.Itoa(i)))
		decision, ok := b.process(context.Background(), antinuke.Event{GuildID: "g1", Action: antinuke.ActionWebhookCreate}, discordgo.AuditLogActionWebhookCreate)
		if !ok {
			t.Fatalf("webhook event %d not attributed", i)
		}
		last = decision
	}
	if last.Verdict != antinuke.VerdictTripped {
		t.Fatalf("expected trip, got %s", last.Verdict)
	}
	if !slices.Equal(b.api.deletedHooks, []string{"w3"}) {
		t.Fatalf("expected webhook w3 deleted, got %v", b.api.deletedHooks)
	}
	if !slices.Equal(b.api.kicks, []string{"nuker"}) {
		t.Fatalf("expected kick at level 3, got %v", b.api.kicks)
	}
}

func TestProtectedDeletionRestoresFromSnapshot(t *testing.T) {
	b := newTestBot(t)
	ctx := context.Background()
	b.api.channels = []*discordgo.Channel{{ID: "c9", GuildID: "g1", Name: "rules", Type: discordgo.ChannelTypeGuildText}}
	if _, err := b.manager.Protect(ctx, "g1", antinuke.ProtectedResource{ResourceID: "c9", ResourceType: antinuke.ResourceChannel}); err != nil {
		t.Fatalf("protect: %v", err)
	}
	if embed := b.handleSnapshotCommand(ctx, commandRequest{GuildID: "g1"}); embed.Color != b.cfg.Notifications.EmbedColors.Success {
		t.Fatalf("snapshot command failed: %+v", embed)
	}

	deletedAt := time.Now().Add(time.Second)
	b.now = func() time.Time { return deletedAt }
	b.api.addAuditEntry(discordgo.AuditLogActionChannelDelete, auditEntry(deletedAt, "nuker", "c9"))
	channel := &discordgo.Channel{ID: "c9", GuildID: "g1", Type: discordgo.ChannelTypeGuildText}
	decision, ok := b.process(ctx, channelEvent(channel, antinuke.ActionChannelDelete), discordgo.AuditLogActionChannelDelete)
	if !ok {
		t.Fatalf("deletion not attributed")
	}
	if decision.Verdict != antinuke.VerdictProtected {
		t.Fatalf("expected protected verdict, got %s", decision.Verdict)
	}
	if len(b.api.bans) != 1 || b.api.bans[0].days != permabanPurgeDays {
		t.Fatalf("expected permaban, got %+v", b.api.bans)
	}
	if decision.Restoration == nil || decision.Restoration.NewID != "new-channel-1" {
		t.Fatalf("expected restoration, got %+v err=%v", decision.Restoration, decision.RestoreErr)
	}
	if b.api.createdChans[0].Name != "rules" {
		t.Fatalf("expected channel recreated from snapshot, got %+v", b.api.createdChans[0])
	}
}
