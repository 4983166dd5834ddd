package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aegis-community/internal/modules/audit"
	"aegis-community/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// auditAggregateWindow folds repeats of the same entry into one message.
const auditAggregateWindow = 10 * time.Minute

func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	policy, err := b.manager.Policy(ctx, entry.GuildID)
	if err != nil {
		b.logger.Debug("audit notify without policy", zap.String("guild_id", entry.GuildID), zap.Error(err))
	}
	channelID := b.logChannel(policy)
	if channelID == "" {
		return
	}

	key := entry.GuildID + "|" + entry.Level + "|" + entry.Event + "|" + entry.Details + "|" + entry.UserID
	now := b.now()

	b.auditAggMu.Lock()
	agg := b.auditAgg[key]
	if agg != nil && agg.channelID == channelID && now.Sub(agg.lastAt) <= auditAggregateWindow {
		agg.count++
		agg.lastAt = now
		count, messageID := agg.count, agg.messageID
		b.auditAggMu.Unlock()
		if _, err := b.api.ChannelMessageEditEmbed(channelID, messageID, b.auditEmbed(entry, count), discordgo.WithContext(ctx)); err == nil {
			return
		}
		b.auditAggMu.Lock()
		delete(b.auditAgg, key)
	}
	b.auditAggMu.Unlock()

	msg, err := b.api.ChannelMessageSendEmbed(channelID, b.auditEmbed(entry, 1), discordgo.WithContext(ctx))
	if err != nil || msg == nil {
		if err != nil {
			b.logger.Warn("audit notify failed", zap.String("guild_id", entry.GuildID), zap.String("channel_id", channelID), zap.Error(err))
		}
		return
	}
	b.auditAggMu.Lock()
	b.auditAgg[key] = &auditAggregate{channelID: channelID, messageID: msg.ID, count: 1, lastAt: now}
	b.auditAggMu.Unlock()
}

func (b *Bot) auditEmbed(entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	userValue := "<@" + entry.UserID + ">"
	if entry.UserID == "" {
		userValue = t("value_system")
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: t("field_event"), Value: auditEventLabel(entry.Event), Inline: false},
		{Name: t("field_level"), Value: entry.Level, Inline: true},
		{Name: t("field_user"), Value: userValue, Inline: true},
	}
	if count > 1 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: t("field_count"), Value: fmt.Sprintf("%d", count), Inline: true})
	}
	if details := formatAuditDetails(entry.Details); details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: t("field_details"), Value: details, Inline: false})
	}
	return &discordgo.MessageEmbed{
		Title:       t("title_audit"),
		Description: t("audit_desc"),
		Color:       b.levelColor(entry.Level),
		Author:      &discordgo.MessageEmbedAuthor{Name: t("author_security")},
		Footer:      &discordgo.MessageEmbedFooter{Text: t("footer_brand")},
		Timestamp:   entry.CreatedAt.Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) levelColor(level string) int {
	colors := b.cfg.Notifications.EmbedColors
	switch level {
	case audit.LevelCrit:
		return colors.Error
	case audit.LevelWarn:
		return colors.Warning
	default:
		return colors.Action
	}
}

func auditEventLabel(event string) string {
	key := "event_" + event
	if label := t(key); label != key {
		return label
	}
	return event
}

// formatAuditDetails renders key=value details one pair per line.
func formatAuditDetails(details string) string {
	if details == "" {
		return ""
	}
	parts := strings.Fields(details)
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return details
		}
		lines = append(lines, kv[0]+": "+strings.Trim(kv[1], `"`))
	}
	return strings.Join(lines, "\n")
}
