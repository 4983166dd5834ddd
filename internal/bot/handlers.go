package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aegis-community/internal/antinuke"
	"aegis-community/internal/modules/audit"
	"aegis-community/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// commandRequest is the session-independent view of a slash command.
type commandRequest struct {
	GuildID  string
	UserID   string
	Options  map[string]*discordgo.ApplicationCommandInteractionDataOption
	Resolved *discordgo.ApplicationCommandInteractionDataResolved
}

func newCommandRequest(interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) commandRequest {
	req := commandRequest{
		GuildID:  interaction.GuildID,
		Options:  make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options)),
		Resolved: data.Resolved,
	}
	if interaction.Member != nil && interaction.Member.User != nil {
		req.UserID = interaction.Member.User.ID
	}
	for _, opt := range data.Options {
		req.Options[opt.Name] = opt
	}
	return req
}

func (r commandRequest) stringOption(name string) string {
	opt, ok := r.Options[name]
	if !ok || opt.Type != discordgo.ApplicationCommandOptionString {
		return ""
	}
	return opt.StringValue()
}

func (r commandRequest) intOption(name string) (int, bool) {
	opt, ok := r.Options[name]
	if !ok || opt.Type != discordgo.ApplicationCommandOptionInteger {
		return 0, false
	}
	return int(opt.IntValue()), true
}

// idOption returns the snowflake carried by a user, channel or role option.
func (r commandRequest) idOption(name string) string {
	opt, ok := r.Options[name]
	if !ok {
		return ""
	}
	id, _ := opt.Value.(string)
	return id
}

func (r commandRequest) channelType(channelID string) discordgo.ChannelType {
	if r.Resolved == nil {
		return discordgo.ChannelTypeGuildText
	}
	if channel, ok := r.Resolved.Channels[channelID]; ok && channel != nil {
		return channel.Type
	}
	return discordgo.ChannelTypeGuildText
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	colors := b.cfg.Notifications.EmbedColors
	if interaction.GuildID == "" || interaction.Member == nil {
		b.respondEmbed(session, interaction, b.commandEmbed(t("title_antinuke"), t("error_guild_only"), colors.Error, nil), true)
		return
	}
	if interaction.Member.Permissions&discordgo.PermissionAdministrator == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed(t("title_antinuke"), t("error_admin_only"), colors.Error, nil), true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	data := interaction.ApplicationCommandData()
	b.respondEmbed(session, interaction, b.handleCommand(ctx, data.Name, newCommandRequest(interaction, data)), true)
}

func (b *Bot) handleCommand(ctx context.Context, name string, req commandRequest) *discordgo.MessageEmbed {
	switch name {
	case "antinuke":
		return b.handleAntiNukeCommand(ctx, req)
	case "limits":
		return b.handleLimitsCommand(ctx, req)
	case "protect":
		return b.handleProtectCommand(ctx, req)
	case "whitelist":
		return b.handleWhitelistCommand(ctx, req)
	case "nukestats":
		return b.handleStatsCommand(ctx, req)
	case "snapshot":
		return b.handleSnapshotCommand(ctx, req)
	default:
		return b.commandEmbed(t("title_antinuke"), t("error_unknown"), b.cfg.Notifications.EmbedColors.Error, nil)
	}
}

func (b *Bot) handleAntiNukeCommand(ctx context.Context, req commandRequest) *discordgo.MessageEmbed {
	title := t("title_antinuke")
	colors := b.cfg.Notifications.EmbedColors
	switch action := req.stringOption("action"); action {
	case "status":
		policy, err := b.manager.Policy(ctx, req.GuildID)
		if err != nil {
			return b.errorEmbed(title, err)
		}
		exemptions, err := b.manager.Exemptions(ctx, req.GuildID)
		if err != nil {
			return b.errorEmbed(title, err)
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: t("field_enabled"), Value: fmt.Sprintf("%t", policy.Enabled), Inline: true},
			{Name: t("field_log_channel"), Value: channelMention(b.logChannel(policy)), Inline: true},
			{Name: t("field_protected"), Value: fmt.Sprintf("%d", len(policy.Protected)), Inline: true},
			{Name: t("field_exempt"), Value: fmt.Sprintf("%d", len(exemptions)), Inline: true},
			{Name: t("field_lockdown"), Value: b.lockdownValue(req.GuildID), Inline: true},
		}
		return b.commandEmbed(title, t("antinuke_status"), colors.Action, fields)
	case "enable", "disable":
		enabled := action == "enable"
		if _, err := b.manager.SetEnabled(ctx, req.GuildID, enabled); err != nil {
			b.logger.Warn("antinuke toggle failed", zap.String("guild_id", req.GuildID), zap.Error(err))
			return b.errorEmbed(title, err)
		}
		b.auditConfig(ctx, req, fmt.Sprintf("enabled=%t", enabled))
		if enabled {
			return b.commandEmbed(title, t("antinuke_enabled"), colors.Success, nil)
		}
		return b.commandEmbed(title, t("antinuke_disabled"), colors.Warning, nil)
	case "logs":
		channelID := req.idOption("channel")
		policy, err := b.manager.SetLogChannel(ctx, req.GuildID, channelID)
		if err != nil {
			return b.errorEmbed(title, err)
		}
		b.auditConfig(ctx, req, "log_channel="+channelID)
		fields := []*discordgo.MessageEmbedField{{Name: t("field_log_channel"), Value: channelMention(b.logChannel(policy)), Inline: true}}
		return b.commandEmbed(title, t("antinuke_logs"), colors.Action, fields)
	case "unlock":
		if !b.lockdown.Release(ctx, req.GuildID, "admin") {
			return b.commandEmbed(title, t("lockdown_none"), colors.Warning, nil)
		}
		b.auditConfig(ctx, req, "lockdown=released")
		return b.commandEmbed(title, t("lockdown_lifted"), colors.Success, nil)
	default:
		return b.commandEmbed(title, t("error_unknown"), colors.Error, nil)
	}
}

func (b *Bot) handleLimitsCommand(ctx context.Context, req commandRequest) *discordgo.MessageEmbed {
	title := t("title_limits")
	colors := b.cfg.Notifications.EmbedColors
	policy, err := b.manager.Policy(ctx, req.GuildID)
	if err != nil {
		return b.errorEmbed(title, err)
	}

	switch req.stringOption("action") {
	case "view":
		return b.commandEmbed(title, t("limits_current"), colors.Action, limitFields(policy))
	case "set":
		action, ok := antinuke.ParseAction(req.stringOption("key"))
		if !ok {
			return b.commandEmbed(title, t("error_missing_key"), colors.Error, nil)
		}
		rule, _ := policy.Rule(action)
		if limit, ok := req.intOption("limit"); ok {
			rule.Limit = limit
		}
		if seconds, ok := req.intOption("window_seconds"); ok {
			rule.Window = time.Duration(seconds) * time.Second
		}
		if _, err := b.manager.SetRule(ctx, req.GuildID, action, rule); err != nil {
			embed := b.errorEmbed(title, err)
			if errors.Is(err, antinuke.ErrInvalidRuleConfig) {
				embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: t("field_reason"), Value: err.Error()})
			}
			return embed
		}
		b.auditConfig(ctx, req, fmt.Sprintf("rule action=%s limit=%d window=%s", action, rule.Limit, rule.Window))
		fields := []*discordgo.MessageEmbedField{{Name: string(action), Value: formatRule(rule, policy.SeverityFor(action)), Inline: true}}
		return b.commandEmbed(title, t("limits_updated"), colors.Success, fields)
	default:
		return b.commandEmbed(title, t("error_unknown"), colors.Error, nil)
	}
}

func (b *Bot) handleProtectCommand(ctx context.Context, req commandRequest) *discordgo.MessageEmbed {
	title := t("title_protect")
	colors := b.cfg.Notifications.EmbedColors
	resource, hasTarget := protectTarget(req)

	switch req.stringOption("action") {
	case "add":
		if !hasTarget {
			return b.commandEmbed(title, t("error_missing_target"), colors.Error, nil)
		}
		if _, err := b.manager.Protect(ctx, req.GuildID, resource); err != nil {
			return b.errorEmbed(title, err)
		}
		b.auditConfig(ctx, req, fmt.Sprintf("protect resource=%s type=%s", resource.ResourceID, resource.ResourceType))
		fields := []*discordgo.MessageEmbedField{{Name: t("field_resource"), Value: resourceMention(resource), Inline: true}}
		return b.commandEmbed(title, t("protect_added"), colors.Success, fields)
	case "remove":
		if !hasTarget {
			return b.commandEmbed(title, t("error_missing_target"), colors.Error, nil)
		}
		removed, err := b.manager.Unprotect(ctx, req.GuildID, resource.ResourceID)
		if err != nil {
			return b.errorEmbed(title, err)
		}
		if !removed {
			return b.commandEmbed(title, t("protect_missing"), colors.Warning, nil)
		}
		b.auditConfig(ctx, req, "unprotect resource="+resource.ResourceID)
		return b.commandEmbed(title, t("protect_removed"), colors.Action, nil)
	case "list":
		policy, err := b.manager.Policy(ctx, req.GuildID)
		if err != nil {
			return b.errorEmbed(title, err)
		}
		value := t("value_none")
		if len(policy.Protected) > 0 {
			lines := make([]string, 0, len(policy.Protected))
			for _, resource := range policy.Protected {
				lines = append(lines, resourceMention(resource)+" ("+string(resource.ResourceType)+")")
			}
			value = strings.Join(lines, "\n")
		}
		fields := []*discordgo.MessageEmbedField{{Name: t("field_protected"), Value: value}}
		return b.commandEmbed(title, t("protect_list"), colors.Action, fields)
	default:
		return b.commandEmbed(title, t("error_unknown"), colors.Error, nil)
	}
}

func protectTarget(req commandRequest) (antinuke.ProtectedResource, bool) {
	if roleID := req.idOption("role"); roleID != "" {
		return antinuke.ProtectedResource{ResourceID: roleID, ResourceType: antinuke.ResourceRole}, true
	}
	if channelID := req.idOption("channel"); channelID != "" {
		return antinuke.ProtectedResource{ResourceID: channelID, ResourceType: channelResourceType(req.channelType(channelID))}, true
	}
	return antinuke.ProtectedResource{}, false
}

func (b *Bot) handleWhitelistCommand(ctx context.Context, req commandRequest) *discordgo.MessageEmbed {
	title := t("title_whitelist")
	colors := b.cfg.Notifications.EmbedColors
	userID := req.idOption("user")

	switch req.stringOption("action") {
	case "add":
		if userID == "" {
			return b.commandEmbed(title, t("error_missing_target"), colors.Error, nil)
		}
		var duration time.Duration
		if minutes, ok := req.intOption("minutes"); ok && minutes > 0 {
			duration = time.Duration(minutes) * time.Minute
		}
		exemption, err := b.manager.AddExemption(ctx, req.GuildID, userID, duration)
		if err != nil {
			return b.errorEmbed(title, err)
		}
		b.auditConfig(ctx, req, fmt.Sprintf("exempt user=%s duration=%s", userID, duration))
		fields := []*discordgo.MessageEmbedField{
			{Name: t("field_user"), Value: "<@" + userID + ">", Inline: true},
			{Name: t("field_expires"), Value: formatExpiry(exemption), Inline: true},
		}
		return b.commandEmbed(title, t("whitelist_added"), colors.Success, fields)
	case "remove":
		if userID == "" {
			return b.commandEmbed(title, t("error_missing_target"), colors.Error, nil)
		}
		removed, err := b.manager.RemoveExemption(ctx, req.GuildID, userID)
		if err != nil {
			return b.errorEmbed(title, err)
		}
		if !removed {
			return b.commandEmbed(title, t("whitelist_missing"), colors.Warning, nil)
		}
		b.auditConfig(ctx, req, "unexempt user="+userID)
		return b.commandEmbed(title, t("whitelist_removed"), colors.Action, nil)
	case "list":
		exemptions, err := b.manager.Exemptions(ctx, req.GuildID)
		if err != nil {
			return b.errorEmbed(title, err)
		}
		value := t("value_none")
		if len(exemptions) > 0 {
			lines := make([]string, 0, len(exemptions))
			for _, exemption := range exemptions {
				lines = append(lines, "<@"+exemption.ActorID+"> ("+formatExpiry(exemption)+")")
			}
			value = strings.Join(lines, "\n")
		}
		fields := []*discordgo.MessageEmbedField{{Name: t("field_exempt"), Value: value}}
		return b.commandEmbed(title, t("whitelist_list"), colors.Action, fields)
	default:
		return b.commandEmbed(title, t("error_unknown"), colors.Error, nil)
	}
}

func (b *Bot) handleStatsCommand(ctx context.Context, req commandRequest) *discordgo.MessageEmbed {
	title := t("title_stats")
	userID := req.idOption("user")
	if userID == "" {
		userID = req.UserID
	}
	policy, err := b.manager.Policy(ctx, req.GuildID)
	if err != nil {
		return b.errorEmbed(title, err)
	}
	counts, err := b.manager.Counts(ctx, req.GuildID, userID)
	if err != nil {
		return b.errorEmbed(title, err)
	}

	windows := make([]string, 0, len(counts))
	for _, action := range antinuke.Actions {
		count := counts[action]
		if count == 0 {
			continue
		}
		rule, _ := policy.Rule(action)
		windows = append(windows, fmt.Sprintf("%s: %d/%d", action, count, rule.Limit))
	}
	windowValue := t("value_none")
	if len(windows) > 0 {
		windowValue = strings.Join(windows, "\n")
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: t("field_user"), Value: "<@" + userID + ">", Inline: true},
		{Name: t("field_windows"), Value: windowValue},
	}

	if b.violations != nil {
		record, err := b.violations.GetViolations(ctx, req.GuildID, userID)
		if err != nil {
			b.logger.Warn("violation lookup failed", zap.String("guild_id", req.GuildID), zap.String("user_id", userID), zap.Error(err))
			return b.errorEmbed(title, err)
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: t("field_lifetime"), Value: lifetimeValue(record)})
	}
	if b.history != nil {
		outcomes, err := b.history.Recent(ctx, req.GuildID, userID, recentIncidents)
		if err != nil {
			// The archive is optional; stats still render without it.
			b.logger.Warn("history lookup failed", zap.String("guild_id", req.GuildID), zap.String("user_id", userID), zap.Error(err))
		} else {
			fields = append(fields, &discordgo.MessageEmbedField{Name: t("field_incidents"), Value: incidentsValue(outcomes)})
		}
	}

	if b.analytics != nil {
		report, err := b.analytics.Report(ctx, req.GuildID, b.now().Add(-24*time.Hour))
		if err != nil {
			b.logger.Warn("stats report failed", zap.String("guild_id", req.GuildID), zap.Error(err))
			return b.errorEmbed(title, err)
		}
		top := t("value_none")
		if len(report.TopUsers) > 0 {
			lines := make([]string, 0, len(report.TopUsers))
			for _, user := range report.TopUsers {
				lines = append(lines, fmt.Sprintf("<@%s>: %d", user.UserID, user.Count))
			}
			top = strings.Join(lines, "\n")
		}
		fields = append(fields,
			&discordgo.MessageEmbedField{Name: t("field_total"), Value: fmt.Sprintf("%d", report.Total), Inline: true},
			&discordgo.MessageEmbedField{Name: t("field_info"), Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelInfo]), Inline: true},
			&discordgo.MessageEmbedField{Name: t("field_warn"), Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelWarn]), Inline: true},
			&discordgo.MessageEmbedField{Name: t("field_crit"), Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelCrit]), Inline: true},
			&discordgo.MessageEmbedField{Name: t("field_top_users"), Value: top},
		)
	}
	return b.commandEmbed(title, t("stats_desc"), b.cfg.Notifications.EmbedColors.Action, fields)
}

const recentIncidents = 5

func lifetimeValue(record storage.ViolationRecord) string {
	if record.CountTotal == 0 {
		return t("value_none")
	}
	lines := []string{fmt.Sprintf("%d", record.CountTotal)}
	for _, action := range antinuke.Actions {
		if count := record.ByTrigger[action]; count > 0 {
			lines = append(lines, fmt.Sprintf("%s: %d", action, count))
		}
	}
	lines = append(lines, fmt.Sprintf("last: %s <t:%d:R>", record.LastAction, record.LastAt.Unix()))
	return strings.Join(lines, "\n")
}

func incidentsValue(outcomes []antinuke.PunishmentOutcome) string {
	if len(outcomes) == 0 {
		return t("value_none")
	}
	lines := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		line := fmt.Sprintf("<t:%d:R> %s after %s (level %d)", outcome.AppliedAt.Unix(), outcome.Action, outcome.Trigger, outcome.Level)
		if outcome.Failed() {
			line += " failed"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) lockdownValue(guildID string) string {
	state := b.lockdown.State(guildID)
	if !state.Lockdown {
		return t("value_none")
	}
	return fmt.Sprintf("<t:%d:R>", state.Until.Unix())
}

func (b *Bot) handleSnapshotCommand(ctx context.Context, req commandRequest) *discordgo.MessageEmbed {
	title := t("title_snapshot")
	snapshot, err := b.snapshotter.FetchSnapshot(ctx, req.GuildID)
	if err == nil {
		err = b.manager.CaptureSnapshot(ctx, snapshot)
	}
	if err != nil {
		b.logger.Warn("manual snapshot failed", zap.String("guild_id", req.GuildID), zap.Error(err))
		return b.errorEmbed(title, err)
	}
	fields := []*discordgo.MessageEmbedField{{Name: t("field_resources"), Value: fmt.Sprintf("%d", len(snapshot.Resources)), Inline: true}}
	return b.commandEmbed(title, t("snapshot_taken"), b.cfg.Notifications.EmbedColors.Success, fields)
}

func (b *Bot) auditConfig(ctx context.Context, req commandRequest, change string) {
	if b.audit != nil {
		b.audit.Config(ctx, req.GuildID, req.UserID, change)
	}
}

// logChannel is the guild's configured channel, else the process default.
func (b *Bot) logChannel(policy antinuke.Policy) string {
	if policy.LogChannelID != "" {
		return policy.LogChannelID
	}
	return b.cfg.DefaultLogChannel
}

func limitFields(policy antinuke.Policy) []*discordgo.MessageEmbedField {
	fields := make([]*discordgo.MessageEmbedField, 0, len(antinuke.Actions))
	for _, action := range antinuke.Actions {
		value := t("value_not_set")
		if rule, ok := policy.Rule(action); ok {
			value = formatRule(rule, policy.SeverityFor(action))
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: string(action), Value: value, Inline: true})
	}
	return fields
}

func formatRule(rule antinuke.RuleConfig, severity antinuke.Level) string {
	return fmt.Sprintf("%d / %s (level %d)", rule.Limit, rule.Window, severity)
}

func formatExpiry(exemption antinuke.Exemption) string {
	if exemption.Permanent() {
		return t("value_permanent")
	}
	return fmt.Sprintf("<t:%d:R>", exemption.ExpiresAt.Unix())
}

func channelMention(channelID string) string {
	if channelID == "" {
		return t("value_not_set")
	}
	return "<#" + channelID + ">"
}

func resourceMention(resource antinuke.ProtectedResource) string {
	if resource.ResourceType == antinuke.ResourceRole {
		return "<@&" + resource.ResourceID + ">"
	}
	return "<#" + resource.ResourceID + ">"
}
