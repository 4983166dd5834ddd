package bot

import (
	"context"
	"time"

	"aegis-community/internal/antinuke"
	"aegis-community/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	// auditLookback bounds how old an audit log entry may be to explain an event.
	auditLookback = 30 * time.Second
	auditLimit    = 5
	eventTimeout  = 15 * time.Second
)

func (b *Bot) onChannelCreate(_ *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.observe(channelEvent(event.Channel, antinuke.ActionChannelCreate), discordgo.AuditLogActionChannelCreate)
}

func (b *Bot) onChannelDelete(_ *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.observe(channelEvent(event.Channel, antinuke.ActionChannelDelete), discordgo.AuditLogActionChannelDelete)
}

func (b *Bot) onChannelUpdate(_ *discordgo.Session, event *discordgo.ChannelUpdate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.observe(channelEvent(event.Channel, antinuke.ActionChannelUpdate), discordgo.AuditLogActionChannelUpdate)
}

func (b *Bot) onRoleCreate(_ *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildRole == nil || event.GuildID == "" || event.Role == nil {
		return
	}
	b.observe(roleEvent(event.GuildID, event.Role.ID, antinuke.ActionRoleCreate), discordgo.AuditLogActionRoleCreate)
}

func (b *Bot) onRoleDelete(_ *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID == "" || event.RoleID == "" {
		return
	}
	b.observe(roleEvent(event.GuildID, event.RoleID, antinuke.ActionRoleDelete), discordgo.AuditLogActionRoleDelete)
}

func (b *Bot) onRoleUpdate(_ *discordgo.Session, event *discordgo.GuildRoleUpdate) {
	if event.GuildRole == nil || event.GuildID == "" || event.Role == nil {
		return
	}
	b.observe(roleEvent(event.GuildID, event.Role.ID, antinuke.ActionRoleUpdate), discordgo.AuditLogActionRoleUpdate)
}

func (b *Bot) onGuildBanAdd(_ *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	b.observe(antinuke.Event{GuildID: event.GuildID, Action: antinuke.ActionMemberBan, ResourceID: event.User.ID}, discordgo.AuditLogActionMemberBanAdd)
}

// A member leaving is only a kick when the audit log says so.
func (b *Bot) onGuildMemberRemove(_ *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.GuildID == "" || event.User == nil {
		return
	}
	b.observe(antinuke.Event{GuildID: event.GuildID, Action: antinuke.ActionMemberKick, ResourceID: event.User.ID}, discordgo.AuditLogActionMemberKick)
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.GuildID == "" || event.User == nil || !event.User.Bot {
		return
	}
	b.observe(antinuke.Event{GuildID: event.GuildID, Action: antinuke.ActionBotAdd, ResourceID: event.User.ID}, discordgo.AuditLogActionBotAdd)
}

// The gateway only reports that a channel's webhooks changed; the audit log
// names the webhook.
func (b *Bot) onWebhooksUpdate(_ *discordgo.Session, event *discordgo.WebhooksUpdate) {
	if event.GuildID == "" {
		return
	}
	b.observe(antinuke.Event{GuildID: event.GuildID, Action: antinuke.ActionWebhookCreate}, discordgo.AuditLogActionWebhookCreate)
}

func (b *Bot) onGuildUpdate(_ *discordgo.Session, event *discordgo.GuildUpdate) {
	if event.Guild == nil || event.Guild.ID == "" {
		return
	}
	b.observe(antinuke.Event{GuildID: event.Guild.ID, Action: antinuke.ActionGuildUpdate, ResourceID: event.Guild.ID}, discordgo.AuditLogActionGuildUpdate)
}

func channelEvent(channel *discordgo.Channel, action antinuke.ActionType) antinuke.Event {
	return antinuke.Event{
		GuildID:      channel.GuildID,
		Action:       action,
		ResourceID:   channel.ID,
		ResourceType: channelResourceType(channel.Type),
	}
}

func roleEvent(guildID, roleID string, action antinuke.ActionType) antinuke.Event {
	return antinuke.Event{
		GuildID:      guildID,
		Action:       action,
		ResourceID:   roleID,
		ResourceType: antinuke.ResourceRole,
	}
}

func (b *Bot) observe(event antinuke.Event, actionType discordgo.AuditLogAction) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	b.process(ctx, event, actionType)
}

// process attributes the event to an actor, runs it through the engine and
// carries out what the decision asks for. It reports false when the event
// never reached the engine.
func (b *Bot) process(ctx context.Context, event antinuke.Event, actionType discordgo.AuditLogAction) (antinuke.Decision, bool) {
	entry, at, ok := b.resolveAuditActor(event.GuildID, actionType, event.ResourceID)
	if !ok {
		return antinuke.Decision{}, false
	}
	event.ActorID = entry.UserID
	if event.ResourceID == "" {
		event.ResourceID = entry.TargetID
	}
	event.Timestamp = at
	if b.implicitlyExempt(event.GuildID, event.ActorID) {
		b.logger.Debug("implicit exemption", zap.String("guild_id", event.GuildID), zap.String("user_id", event.ActorID), zap.String("action", string(event.Action)))
		return antinuke.Decision{}, false
	}

	decision := b.manager.Handle(ctx, event)
	if decision.Revert {
		b.revert(ctx, event)
	}
	if b.audit != nil {
		b.audit.Decision(ctx, decision)
	}
	b.lockdown.Consider(ctx, decision)
	return decision, true
}

// resolveAuditActor finds the newest unclaimed audit entry of actionType for
// targetID. Each entry explains at most one event.
func (b *Bot) resolveAuditActor(guildID string, actionType discordgo.AuditLogAction, targetID string) (*discordgo.AuditLogEntry, time.Time, bool) {
	logs, err := b.api.GuildAuditLog(guildID, "", "", int(actionType), auditLimit)
	if err != nil || logs == nil {
		if err != nil {
			b.logger.Debug("audit log lookup failed", zap.String("guild_id", guildID), zap.Int("action_type", int(actionType)), zap.Error(err))
		}
		return nil, time.Time{}, false
	}
	now := b.now()
	for _, entry := range logs.AuditLogEntries {
		if entry == nil || entry.UserID == "" {
			continue
		}
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		at := now
		if ts, err := discordgo.SnowflakeTimestamp(entry.ID); err == nil {
			if now.Sub(ts) > auditLookback {
				continue
			}
			at = ts
		}
		if !b.claim(entry.ID, now) {
			continue
		}
		return entry, at, true
	}
	return nil, time.Time{}, false
}

func (b *Bot) claim(entryID string, now time.Time) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	for id, at := range b.seen {
		if now.Sub(at) > 2*auditLookback {
			delete(b.seen, id)
		}
	}
	if _, ok := b.seen[entryID]; ok {
		return false
	}
	b.seen[entryID] = now
	return true
}

// The guild owner and the bot itself are never policed.
func (b *Bot) implicitlyExempt(guildID, actorID string) bool {
	if actorID == b.directory.SelfID() {
		return true
	}
	return actorID == b.directory.OwnerID(guildID)
}

// revert deletes a resource created by a tripped or contained actor.
func (b *Bot) revert(ctx context.Context, event antinuke.Event) {
	if event.ResourceID == "" {
		return
	}
	var err error
	switch event.Action {
	case antinuke.ActionChannelCreate:
		_, err = b.api.ChannelDelete(event.ResourceID, discordgo.WithContext(ctx))
	case antinuke.ActionRoleCreate:
		err = b.api.GuildRoleDelete(event.GuildID, event.ResourceID, discordgo.WithContext(ctx))
	case antinuke.ActionWebhookCreate:
		err = b.api.WebhookDelete(event.ResourceID, discordgo.WithContext(ctx))
	default:
		return
	}
	if err == nil {
		return
	}
	b.logger.Warn("revert failed",
		zap.String("guild_id", event.GuildID),
		zap.String("user_id", event.ActorID),
		zap.String("action", string(event.Action)),
		zap.String("resource_id", event.ResourceID),
		zap.Error(err),
	)
	if b.audit != nil {
		b.audit.Log(ctx, audit.LevelWarn, event.GuildID, event.ActorID, audit.EventRevertFailed, "action="+string(event.Action)+" resource="+event.ResourceID)
	}
}
