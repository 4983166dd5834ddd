package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"aegis-community/internal/config"

	"github.com/bwmarrin/discordgo"
)

type channelSnapshot struct {
	allow    int64
	deny     int64
	hasPerm  bool
	slowmode int
}

// channelLocker denies @everyone the right to send in every text channel
// and restores the saved overwrites on unlock.
type channelLocker struct {
	api discordAPI
	cfg config.PlaybookConfig

	mu    sync.Mutex
	saved map[string]map[string]channelSnapshot
}

func newChannelLocker(api discordAPI, cfg config.PlaybookConfig) *channelLocker {
	return &channelLocker{api: api, cfg: cfg, saved: make(map[string]map[string]channelSnapshot)}
}

func (l *channelLocker) Lock(ctx context.Context, guildID string) error {
	l.mu.Lock()
	if _, exists := l.saved[guildID]; exists {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	channels, err := l.api.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	snapshots := make(map[string]channelSnapshot)
	var errs []error
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		snap := channelSnapshot{slowmode: channel.RateLimitPerUser}
		for _, overwrite := range channel.PermissionOverwrites {
			// The @everyone role shares the guild's ID.
			if overwrite.Type == discordgo.PermissionOverwriteTypeRole && overwrite.ID == guildID {
				snap.allow = overwrite.Allow
				snap.deny = overwrite.Deny
				snap.hasPerm = true
				break
			}
		}
		snapshots[channel.ID] = snap

		if l.cfg.DenySend {
			allow := snap.allow &^ discordgo.PermissionSendMessages
			deny := snap.deny | discordgo.PermissionSendMessages
			if err := l.api.ChannelPermissionSet(channel.ID, guildID, discordgo.PermissionOverwriteTypeRole, allow, deny, discordgo.WithContext(ctx)); err != nil {
				errs = append(errs, fmt.Errorf("deny send in %s: %w", channel.ID, err))
			}
		}
		if l.cfg.SlowmodeSeconds > 0 && channel.RateLimitPerUser != l.cfg.SlowmodeSeconds {
			slowmode := l.cfg.SlowmodeSeconds
			if _, err := l.api.ChannelEdit(channel.ID, &discordgo.ChannelEdit{RateLimitPerUser: &slowmode}, discordgo.WithContext(ctx)); err != nil {
				errs = append(errs, fmt.Errorf("slowmode in %s: %w", channel.ID, err))
			}
		}
	}

	l.mu.Lock()
	l.saved[guildID] = snapshots
	l.mu.Unlock()
	return errors.Join(errs...)
}

func (l *channelLocker) Unlock(ctx context.Context, guildID string) error {
	l.mu.Lock()
	snapshots := l.saved[guildID]
	delete(l.saved, guildID)
	l.mu.Unlock()

	var errs []error
	for channelID, snap := range snapshots {
		if l.cfg.DenySend {
			var err error
			if snap.hasPerm {
				err = l.api.ChannelPermissionSet(channelID, guildID, discordgo.PermissionOverwriteTypeRole, snap.allow, snap.deny, discordgo.WithContext(ctx))
			} else {
				err = l.api.ChannelPermissionDelete(channelID, guildID, discordgo.WithContext(ctx))
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("restore overwrite in %s: %w", channelID, err))
			}
		}
		if l.cfg.SlowmodeSeconds > 0 {
			slowmode := snap.slowmode
			if _, err := l.api.ChannelEdit(channelID, &discordgo.ChannelEdit{RateLimitPerUser: &slowmode}, discordgo.WithContext(ctx)); err != nil {
				errs = append(errs, fmt.Errorf("restore slowmode in %s: %w", channelID, err))
			}
		}
	}
	return errors.Join(errs...)
}
