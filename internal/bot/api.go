package bot

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordAPI is the part of the REST surface the adapter calls. A
// *discordgo.Session satisfies it.
type discordAPI interface {
	GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error)
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildRoleCreate(guildID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildRoleDelete(guildID, roleID string, options ...discordgo.RequestOption) error
	WebhookDelete(webhookID string, options ...discordgo.RequestOption) error
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

var _ discordAPI = (*discordgo.Session)(nil)

// guildDirectory answers the identity questions the adapter needs from the
// gateway state cache.
type guildDirectory interface {
	Guilds() []string
	OwnerID(guildID string) string
	SelfID() string
}

type sessionDirectory struct {
	session *discordgo.Session
}

func (d sessionDirectory) Guilds() []string {
	state := d.session.State
	state.RLock()
	defer state.RUnlock()
	guilds := make([]string, 0, len(state.Guilds))
	for _, guild := range state.Guilds {
		if guild != nil && !guild.Unavailable {
			guilds = append(guilds, guild.ID)
		}
	}
	return guilds
}

func (d sessionDirectory) OwnerID(guildID string) string {
	guild, err := d.session.State.Guild(guildID)
	if err != nil || guild == nil {
		guild, err = d.session.Guild(guildID)
		if err != nil || guild == nil {
			return ""
		}
	}
	return guild.OwnerID
}

func (d sessionDirectory) SelfID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}
