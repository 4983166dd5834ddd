// Package bot adapts the Discord gateway to the anti-nuke engine: it turns
// gateway events into engine events, executes decisions and serves the
// admin slash commands.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aegis-community/internal/analytics"
	"aegis-community/internal/antinuke"
	"aegis-community/internal/config"
	"aegis-community/internal/modules/audit"
	"aegis-community/internal/playbook"
	"aegis-community/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg         config.Config
	logger      *zap.Logger
	session     *discordgo.Session
	api         discordAPI
	directory   guildDirectory
	manager     *antinuke.Manager
	audit       *audit.Logger
	analytics   *analytics.Service
	violations  ViolationReader
	history     HistoryReader
	lockdown    *playbook.Engine
	snapshotter *Snapshotter
	now         func() time.Time

	seenMu sync.Mutex
	seen   map[string]time.Time

	auditAggMu sync.Mutex
	auditAgg   map[string]*auditAggregate
}

type auditAggregate struct {
	channelID string
	messageID string
	count     int
	lastAt    time.Time
}

// ViolationReader returns an actor's lifetime punishment tally.
type ViolationReader interface {
	GetViolations(ctx context.Context, guildID, userID string) (storage.ViolationRecord, error)
}

// HistoryReader returns an actor's newest punishment outcomes.
type HistoryReader interface {
	Recent(ctx context.Context, guildID, actorID string, limit int) ([]antinuke.PunishmentOutcome, error)
}

// Services are the collaborators the adapter drives. Only Manager is
// required; History stays nil when no archive is configured.
type Services struct {
	Manager    *antinuke.Manager
	Audit      *audit.Logger
	Analytics  *analytics.Service
	Violations ViolationReader
	History    HistoryReader
}

// NewSession creates the gateway session with the intents the engine needs.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildWebhooks
	return session, nil
}

func New(cfg config.Config, logger *zap.Logger, session *discordgo.Session, services Services) *Bot {
	b := newBot(cfg, logger, session, sessionDirectory{session: session}, services)
	b.session = session

	session.AddHandler(b.onReady)
	session.AddHandler(b.onChannelCreate)
	session.AddHandler(b.onChannelDelete)
	session.AddHandler(b.onChannelUpdate)
	session.AddHandler(b.onRoleCreate)
	session.AddHandler(b.onRoleDelete)
	session.AddHandler(b.onRoleUpdate)
	session.AddHandler(b.onGuildBanAdd)
	session.AddHandler(b.onGuildMemberRemove)
	session.AddHandler(b.onGuildMemberAdd)
	session.AddHandler(b.onWebhooksUpdate)
	session.AddHandler(b.onGuildUpdate)
	session.AddHandler(b.onInteractionCreate)
	return b
}

func newBot(cfg config.Config, logger *zap.Logger, api discordAPI, directory guildDirectory, services Services) *Bot {
	b := &Bot{
		cfg:         cfg,
		logger:      logger,
		api:         api,
		directory:   directory,
		manager:     services.Manager,
		audit:       services.Audit,
		analytics:   services.Analytics,
		violations:  services.Violations,
		history:     services.History,
		snapshotter: &Snapshotter{api: api, directory: directory},
		now:         time.Now,
		seen:        make(map[string]time.Time),
		auditAgg:    make(map[string]*auditAggregate),
	}
	b.lockdown = playbook.New(playbook.Config{
		Enabled:  cfg.Playbook.Enabled,
		MinLevel: antinuke.Level(cfg.Playbook.MinLevel),
		Duration: cfg.Playbook.Duration(),
	}, newChannelLocker(api, cfg.Playbook), services.Audit, logger)
	if auditLogger := services.Audit; auditLogger != nil {
		auditLogger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if !b.cfg.Notifications.AuditToChannel {
				return
			}
			b.notifyAudit(ctx, entry)
		})
	}
	return b
}

// Snapshotter exposes the snapshot source backed by this bot's session.
func (b *Bot) Snapshotter() *Snapshotter {
	return b.snapshotter
}

// Serve keeps the gateway open until ctx is cancelled. It runs as a
// supervised service, so a failed open is retried with backoff.
func (b *Bot) Serve(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer func() {
		if err := b.session.Close(); err != nil {
			b.logger.Warn("close gateway", zap.Error(err))
		}
	}()

	if err := b.registerCommands(); err != nil {
		b.logger.Warn("register commands failed", zap.Error(err))
	}

	<-ctx.Done()
	return ctx.Err()
}

func (b *Bot) String() string {
	return "discord-gateway"
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Author:      &discordgo.MessageEmbedAuthor{Name: t("author_security")},
		Footer:      &discordgo.MessageEmbedFooter{Text: t("footer_brand")},
		Timestamp:   b.now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) errorEmbed(title string, err error) *discordgo.MessageEmbed {
	return b.commandEmbed(title, errorMessage(err), b.cfg.Notifications.EmbedColors.Error, nil)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}
