package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aegis-community/internal/antinuke"
	"aegis-community/internal/config"

	"github.com/bwmarrin/discordgo"
)

const (
	defaultMuteDuration = 10 * time.Minute
	maxMuteDuration     = 28 * 24 * time.Hour
	permabanPurgeDays   = 7
)

// Capabilities binds the engine's moderation and restoration hooks to a
// Discord session.
func Capabilities(session *discordgo.Session, colors config.EmbedColors) antinuke.Capabilities {
	return newCapabilities(session, colors)
}

func newCapabilities(api discordAPI, colors config.EmbedColors) antinuke.Capabilities {
	return antinuke.Capabilities{
		Moderator: &Moderator{api: api, colors: colors, now: time.Now},
		Restorer:  &Restorer{api: api},
	}
}

// Moderator applies punishments through the Discord REST API.
type Moderator struct {
	api    discordAPI
	colors config.EmbedColors
	now    func() time.Time
}

var _ antinuke.Moderator = (*Moderator)(nil)

func (m *Moderator) Warn(ctx context.Context, guildID, userID, reason string) error {
	channel, err := m.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm: %w", err)
	}
	embed := &discordgo.MessageEmbed{
		Title:       t("warn_title"),
		Description: reason,
		Color:       m.colors.Warning,
		Timestamp:   m.now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: t("field_server"), Value: guildID, Inline: true},
		},
	}
	if _, err := m.api.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send warning: %w", err)
	}
	return nil
}

// Mute uses a member timeout, clamped to the platform maximum.
func (m *Moderator) Mute(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error {
	if duration <= 0 {
		duration = defaultMuteDuration
	}
	if duration > maxMuteDuration {
		duration = maxMuteDuration
	}
	until := m.now().Add(duration)
	return m.api.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx))
}

func (m *Moderator) Kick(ctx context.Context, guildID, userID, reason string) error {
	return m.api.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

// Ban keeps the actor's message history; a permanent ban also purges the
// last week of messages.
func (m *Moderator) Ban(ctx context.Context, guildID, userID, reason string, permanent bool) error {
	days := 0
	if permanent {
		days = permabanPurgeDays
	}
	return m.api.GuildBanCreateWithReason(guildID, userID, reason, days, discordgo.WithContext(ctx))
}

// Restorer recreates channels, categories and roles from snapshots.
type Restorer struct {
	api discordAPI
}

var _ antinuke.Restorer = (*Restorer)(nil)

func (r *Restorer) Recreate(ctx context.Context, guildID string, snapshot antinuke.ResourceSnapshot) (string, []string, error) {
	switch snapshot.Type {
	case antinuke.ResourceRole:
		return r.recreateRole(ctx, guildID, snapshot)
	case antinuke.ResourceChannel, antinuke.ResourceCategory:
		return r.recreateChannel(ctx, guildID, snapshot)
	default:
		return "", nil, fmt.Errorf("unsupported resource type %q", snapshot.Type)
	}
}

func (r *Restorer) recreateRole(ctx context.Context, guildID string, snapshot antinuke.ResourceSnapshot) (string, []string, error) {
	params := &discordgo.RoleParams{
		Name:        snapshot.Name,
		Hoist:       &snapshot.Hoist,
		Permissions: &snapshot.Permissions,
		Mentionable: &snapshot.Mentionable,
	}
	if snapshot.Color != 0 {
		params.Color = &snapshot.Color
	}
	role, err := r.api.GuildRoleCreate(guildID, params, discordgo.WithContext(ctx))
	if err != nil {
		return "", nil, err
	}
	if role == nil {
		return "", nil, errors.New("role create returned no role")
	}
	return role.ID, nil, nil
}

func (r *Restorer) recreateChannel(ctx context.Context, guildID string, snapshot antinuke.ResourceSnapshot) (string, []string, error) {
	data := discordgo.GuildChannelCreateData{
		Name:             snapshot.Name,
		Type:             discordgo.ChannelType(snapshot.ChannelKind),
		Topic:            snapshot.Topic,
		Bitrate:          snapshot.Bitrate,
		UserLimit:        snapshot.UserLimit,
		RateLimitPerUser: snapshot.RateLimit,
		Position:         snapshot.Position,
		ParentID:         snapshot.ParentID,
		NSFW:             snapshot.NSFW,
	}
	if snapshot.Type == antinuke.ResourceCategory {
		data.Type = discordgo.ChannelTypeGuildCategory
		data.ParentID = ""
	}
	for _, overwrite := range snapshot.Overwrites {
		data.PermissionOverwrites = append(data.PermissionOverwrites, &discordgo.PermissionOverwrite{
			ID:    overwrite.ID,
			Type:  discordgo.PermissionOverwriteType(overwrite.Type),
			Allow: overwrite.Allow,
			Deny:  overwrite.Deny,
		})
	}

	channel, err := r.api.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
	if err != nil && data.ParentID != "" {
		// The parent category may be gone too; retry at the top level.
		data.ParentID = ""
		channel, err = r.api.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
		if err == nil {
			return channel.ID, []string{"parent_id"}, nil
		}
	}
	if err != nil {
		return "", nil, err
	}
	if channel == nil {
		return "", nil, errors.New("channel create returned no channel")
	}
	return channel.ID, nil, nil
}

// Snapshotter reads the reconstructible resources of the guilds the bot is in.
type Snapshotter struct {
	api       discordAPI
	directory guildDirectory
}

func NewSnapshotter(session *discordgo.Session) *Snapshotter {
	return &Snapshotter{api: session, directory: sessionDirectory{session: session}}
}

func (s *Snapshotter) Guilds() []string {
	return s.directory.Guilds()
}

// FetchSnapshot leaves CapturedAt unset; the engine stamps it on capture.
func (s *Snapshotter) FetchSnapshot(ctx context.Context, guildID string) (antinuke.ServerSnapshot, error) {
	channels, err := s.api.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return antinuke.ServerSnapshot{}, fmt.Errorf("fetch channels: %w", err)
	}
	roles, err := s.api.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return antinuke.ServerSnapshot{}, fmt.Errorf("fetch roles: %w", err)
	}

	snapshot := antinuke.ServerSnapshot{
		GuildID:   guildID,
		Resources: make([]antinuke.ResourceSnapshot, 0, len(channels)+len(roles)),
	}
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		snapshot.Resources = append(snapshot.Resources, channelSnapshot(channel))
	}
	for _, role := range roles {
		// @everyone shares the guild ID and managed roles belong to integrations.
		if role == nil || role.ID == guildID || role.Managed {
			continue
		}
		snapshot.Resources = append(snapshot.Resources, roleSnapshot(role))
	}
	return snapshot, nil
}

func channelSnapshot(channel *discordgo.Channel) antinuke.ResourceSnapshot {
	resource := antinuke.ResourceSnapshot{
		ID:          channel.ID,
		Type:        channelResourceType(channel.Type),
		Name:        channel.Name,
		ParentID:    channel.ParentID,
		ChannelKind: int(channel.Type),
		Position:    channel.Position,
		Topic:       channel.Topic,
		NSFW:        channel.NSFW,
		Bitrate:     channel.Bitrate,
		UserLimit:   channel.UserLimit,
		RateLimit:   channel.RateLimitPerUser,
	}
	for _, overwrite := range channel.PermissionOverwrites {
		if overwrite == nil {
			continue
		}
		resource.Overwrites = append(resource.Overwrites, antinuke.Overwrite{
			ID:    overwrite.ID,
			Type:  int(overwrite.Type),
			Allow: overwrite.Allow,
			Deny:  overwrite.Deny,
		})
	}
	return resource
}

func roleSnapshot(role *discordgo.Role) antinuke.ResourceSnapshot {
	return antinuke.ResourceSnapshot{
		ID:          role.ID,
		Type:        antinuke.ResourceRole,
		Name:        role.Name,
		Position:    role.Position,
		Color:       role.Color,
		Hoist:       role.Hoist,
		Mentionable: role.Mentionable,
		Permissions: role.Permissions,
	}
}

func channelResourceType(kind discordgo.ChannelType) antinuke.ResourceType {
	if kind == discordgo.ChannelTypeGuildCategory {
		return antinuke.ResourceCategory
	}
	return antinuke.ResourceChannel
}
