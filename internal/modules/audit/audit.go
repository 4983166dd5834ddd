// Package audit records the operator-facing trail of anti-nuke activity.
package audit

import (
	"context"
	"sync"
	"time"

	"aegis-community/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

type Store interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

// Notifier receives every entry after it has been persisted.
type Notifier func(context.Context, storage.AuditLog)

type Logger struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	notify Notifier
}

func NewLogger(store Store, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{store: store, logger: logger, now: time.Now}
}

func (l *Logger) SetNotifier(notify Notifier) {
	l.mu.Lock()
	l.notify = notify
	l.mu.Unlock()
}

// Log stores the entry, mirrors it to zap at the matching severity and hands
// it to the notifier. A storage failure does not stop the notification.
func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) storage.AuditLog {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now().UTC(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit persist failed", zap.String("guild_id", guildID), zap.String("event", event), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	}
	switch level {
	case LevelCrit:
		l.logger.Error("audit", fields...)
	case LevelWarn:
		l.logger.Warn("audit", fields...)
	default:
		l.logger.Info("audit", fields...)
	}

	l.mu.RLock()
	notify := l.notify
	l.mu.RUnlock()
	if notify != nil {
		notify(ctx, entry)
	}
	return entry
}
