package bot

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"aegis-community/internal/analytics"
	"aegis-community/internal/antinuke"
	"aegis-community/internal/config"
	"aegis-community/internal/modules/audit"
	"aegis-community/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const discordEpochMillis = 1420070400000

var errPlatform = errors.New("discord: 403 missing permissions")

type timeoutCall struct {
	guildID string
	userID  string
	until   time.Time
}

type banCall struct {
	guildID string
	userID  string
	reason  string
	days    int
}

type overwriteCall struct {
	channelID string
	allow     int64
	deny      int64
}

type fakeAPI struct {
	mu sync.Mutex

	auditEntries map[int][]*discordgo.AuditLogEntry
	auditErr     error
	channels     []*discordgo.Channel
	roles        []*discordgo.Role

	timeouts       []timeoutCall
	kicks          []string
	bans           []banCall
	dms            []string
	sentEmbeds     map[string][]*discordgo.MessageEmbed
	editedEmbeds   map[string][]*discordgo.MessageEmbed
	createdRoles   []*discordgo.RoleParams
	createdChans   []discordgo.GuildChannelCreateData
	deletedChans   []string
	deletedRoles   []string
	deletedHooks   []string
	overwrites     []overwriteCall
	clearedPerms   []string
	slowmodes      map[string]int
	channelErrs    int
	punishErr      error
	nextMessageNum int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		auditEntries: make(map[int][]*discordgo.AuditLogEntry),
		sentEmbeds:   make(map[string][]*discordgo.MessageEmbed),
		editedEmbeds: make(map[string][]*discordgo.MessageEmbed),
		slowmodes:    make(map[string]int),
	}
}

func (f *fakeAPI) addAuditEntry(actionType discordgo.AuditLogAction, entry *discordgo.AuditLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Newest first, as the platform returns them.
	f.auditEntries[int(actionType)] = append([]*discordgo.AuditLogEntry{entry}, f.auditEntries[int(actionType)]...)
}

func (f *fakeAPI) GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return nil, f.auditErr
	}
	entries := f.auditEntries[actionType]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return &discordgo.GuildAuditLog{AuditLogEntries: entries}, nil
}

func (f *fakeAPI) GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.punishErr != nil {
		return f.punishErr
	}
	f.timeouts = append(f.timeouts, timeoutCall{guildID: guildID, userID: userID, until: *until})
	return nil
}

func (f *fakeAPI) GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.punishErr != nil {
		return f.punishErr
	}
	f.kicks = append(f.kicks, userID)
	return nil
}

func (f *fakeAPI) GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.punishErr != nil {
		return f.punishErr
	}
	f.bans = append(f.bans, banCall{guildID: guildID, userID: userID, reason: reason, days: days})
	return nil
}

func (f *fakeAPI) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeAPI) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentEmbeds[channelID] = append(f.sentEmbeds[channelID], embed)
	f.nextMessageNum++
	return &discordgo.Message{ID: "msg-" + strconv.Itoa(f.nextMessageNum), ChannelID: channelID}, nil
}

func (f *fakeAPI) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editedEmbeds[messageID] = append(f.editedEmbeds[messageID], embed)
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeAPI) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErrs > 0 {
		f.channelErrs--
		return nil, errPlatform
	}
	f.createdChans = append(f.createdChans, data)
	return &discordgo.Channel{ID: "new-channel-" + strconv.Itoa(len(f.createdChans)), GuildID: guildID, Name: data.Name, Type: data.Type}, nil
}

func (f *fakeAPI) GuildRoleCreate(guildID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdRoles = append(f.createdRoles, data)
	return &discordgo.Role{ID: "new-role-" + strconv.Itoa(len(f.createdRoles)), Name: data.Name}, nil
}

func (f *fakeAPI) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels, nil
}

func (f *fakeAPI) GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles, nil
}

func (f *fakeAPI) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedChans = append(f.deletedChans, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeAPI) GuildRoleDelete(guildID, roleID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedRoles = append(f.deletedRoles, roleID)
	return nil
}

func (f *fakeAPI) WebhookDelete(webhookID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedHooks = append(f.deletedHooks, webhookID)
	return nil
}

func (f *fakeAPI) ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overwrites = append(f.overwrites, overwriteCall{channelID: channelID, allow: allow, deny: deny})
	return nil
}

func (f *fakeAPI) ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedPerms = append(f.clearedPerms, channelID)
	return nil
}

func (f *fakeAPI) ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data.RateLimitPerUser != nil {
		f.slowmodes[channelID] = *data.RateLimitPerUser
	}
	return &discordgo.Channel{ID: channelID}, nil
}

type fakeDirectory struct {
	guilds []string
	owners map[string]string
	self   string
}

func (d fakeDirectory) Guilds() []string              { return d.guilds }
func (d fakeDirectory) OwnerID(guildID string) string { return d.owners[guildID] }
func (d fakeDirectory) SelfID() string                { return d.self }

var snowflakeSeq int64

// snowflake builds a Discord ID whose embedded timestamp is at.
func snowflake(at time.Time) string {
	snowflakeSeq++
	return strconv.FormatInt((at.UnixMilli()-discordEpochMillis)<<22|snowflakeSeq, 10)
}

func auditEntry(at time.Time, actorID, targetID string) *discordgo.AuditLogEntry {
	return &discordgo.AuditLogEntry{ID: snowflake(at), UserID: actorID, TargetID: targetID}
}

type testBot struct {
	*Bot
	api   *fakeAPI
	store *storage.Store
}

func newTestBot(t *testing.T) testBot {
	t.Helper()
	store, err := storage.New("", zap.NewNop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(store.Close)

	api := newFakeAPI()
	cfg := config.DefaultConfig()
	cfg.Notifications.AuditToChannel = false
	manager := antinuke.NewManager(store, antinuke.ManagerOptions{
		Capabilities: newCapabilities(api, cfg.Notifications.EmbedColors),
		Archiver:     store,
		Logger:       zap.NewNop(),
	})
	auditLogger := audit.NewLogger(store, zap.NewNop())
	directory := fakeDirectory{
		guilds: []string{"g1"},
		owners: map[string]string{"g1": "owner"},
		self:   "aegis",
	}
	b := newBot(cfg, zap.NewNop(), api, directory, Services{
		Manager:    manager,
		Audit:      auditLogger,
		Analytics:  analytics.New(store),
		Violations: store,
	})
	return testBot{Bot: b, api: api, store: store}
}
