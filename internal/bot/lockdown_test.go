package bot

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"aegis-community/internal/antinuke"
	"aegis-community/internal/config"

	"github.com/bwmarrin/discordgo"
)

func TestChannelLockerRestoresOverwrites(t *testing.T) {
	api := newFakeAPI()
	api.channels = []*discordgo.Channel{
		{ID: "general", Type: discordgo.ChannelTypeGuildText, RateLimitPerUser: 5, PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: "g1", Type: discordgo.PermissionOverwriteTypeRole, Allow: discordgo.PermissionSendMessages | discordgo.PermissionAddReactions},
		}},
		{ID: "news", Type: discordgo.ChannelTypeGuildNews},
		{ID: "voice", Type: discordgo.ChannelTypeGuildVoice},
	}
	locker := newChannelLocker(api, config.PlaybookConfig{DenySend: true, SlowmodeSeconds: 30})
	ctx := context.Background()

	if err := locker.Lock(ctx, "g1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if len(api.overwrites) != 2 {
		t.Fatalf("expected text and news channels locked, got %+v", api.overwrites)
	}
	general := api.overwrites[0]
	if general.channelID != "general" || general.deny&discordgo.PermissionSendMessages == 0 || general.allow&discordgo.PermissionSendMessages != 0 {
		t.Fatalf("expected send denied in general, got %+v", general)
	}
	if general.allow&discordgo.PermissionAddReactions == 0 {
		t.Fatalf("unrelated allows must survive the lock, got %+v", general)
	}
	if api.slowmodes["general"] != 30 || api.slowmodes["news"] != 30 {
		t.Fatalf("expected slowmode applied, got %v", api.slowmodes)
	}

	if err := locker.Unlock(ctx, "g1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	restored := api.overwrites[len(api.overwrites)-1]
	if restored.channelID != "general" || restored.allow != discordgo.PermissionSendMessages|discordgo.PermissionAddReactions || restored.deny != 0 {
		t.Fatalf("expected general overwrite restored, got %+v", restored)
	}
	if !slices.Equal(api.clearedPerms, []string{"news"}) {
		t.Fatalf("expected the added news overwrite deleted, got %v", api.clearedPerms)
	}
	if api.slowmodes["general"] != 5 || api.slowmodes["news"] != 0 {
		t.Fatalf("expected slowmode restored, got %v", api.slowmodes)
	}
}

func TestProtectedDeletionLocksGuildUntilUnlocked(t *testing.T) {
	b := newTestBot(t)
	ctx := context.Background()
	b.api.channels = []*discordgo.Channel{{ID: "c9", GuildID: "g1", Name: "rules", Type: discordgo.ChannelTypeGuildText}}
	if _, err := b.manager.Protect(ctx, "g1", antinuke.ProtectedResource{ResourceID: "c9", ResourceType: antinuke.ResourceChannel}); err != nil {
		t.Fatalf("protect: %v", err)
	}

	now := time.Now()
	b.now = func() time.Time { return now }
	b.api.addAuditEntry(discordgo.AuditLogActionChannelDelete, auditEntry(now, "nuker", "c9"))
	channel := &discordgo.Channel{ID: "c9", GuildID: "g1", Type: discordgo.ChannelTypeGuildText}
	decision, ok := b.process(ctx, channelEvent(channel, antinuke.ActionChannelDelete), discordgo.AuditLogActionChannelDelete)
	if !ok || decision.Verdict != antinuke.VerdictProtected {
		t.Fatalf("expected protected verdict, got %s", decision.Verdict)
	}
	if !b.lockdown.State("g1").Lockdown {
		t.Fatalf("expected guild lockdown after protected deletion")
	}
	if len(b.api.overwrites) != 1 || b.api.overwrites[0].deny&discordgo.PermissionSendMessages == 0 {
		t.Fatalf("expected send denied, got %+v", b.api.overwrites)
	}

	status := b.handleCommand(ctx, "antinuke", request(stringOpt("action", "status")))
	if last := status.Fields[len(status.Fields)-1]; !strings.HasPrefix(last.Value, "<t:") {
		t.Fatalf("expected lockdown expiry in status, got %+v", last)
	}
	if embed := b.handleCommand(ctx, "antinuke", request(stringOpt("action", "unlock"))); embed.Description != messages["lockdown_lifted"] {
		t.Fatalf("expected lockdown lifted, got %q", embed.Description)
	}
	if b.lockdown.State("g1").Lockdown || !slices.Equal(b.api.clearedPerms, []string{"c9"}) {
		t.Fatalf("expected lockdown released, got %v", b.api.clearedPerms)
	}
	if embed := b.handleCommand(ctx, "antinuke", request(stringOpt("action", "unlock"))); embed.Description != messages["lockdown_none"] {
		t.Fatalf("expected no lockdown, got %q", embed.Description)
	}
}

func TestLowLevelTripDoesNotLockGuild(t *testing.T) {
	b := newTestBot(t)
	now := time.Now()
	b.now = func() time.Time { return now }
	for i, id := range []string{"c1", "c2", "c3"} {
		createChannel(b, now.Add(time.Duration(i)*time.Millisecond), "nuker", id)
	}
	if b.lockdown.State("g1").Lockdown || len(b.api.overwrites) != 0 {
		t.Fatalf("a level 2 trip must not lock the guild")
	}
}
