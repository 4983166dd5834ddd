package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	policyPrefix     = "policy:"
	exemptionsPrefix = "exemptions:"
	snapshotPrefix   = "snapshot:"
	auditPrefix      = "audit:"
	violationPrefix  = "violation:"
	auditSequenceKey = "seq:audit"
)

var ErrNotFound = errors.New("storage: not found")

// Store is a badger-backed key-value store. Every record is keyed by guild ID.
type Store struct {
	db       *badger.DB
	auditSeq *badger.Sequence
}

type AuditLog struct {
	ID        int64     `json:"id"`
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	Level     string    `json:"level"`
	Event     string    `json:"event"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// New opens the store in dir. An empty dir keeps everything in memory.
func New(dir string, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger.Sugar().Named("badger")})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(auditSequenceKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit sequence: %w", err)
	}
	return &Store{db: db, auditSeq: seq}, nil
}

func (s *Store) Close() {
	if s.auditSeq != nil {
		_ = s.auditSeq.Release()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// RunGC reclaims value log space. badger.ErrNoRewrite means nothing to do.
func (s *Store) RunGC() error {
	if s.db.Opts().InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (s *Store) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(key string, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	next, err := s.auditSeq.Next()
	if err != nil {
		return fmt.Errorf("next audit id: %w", err)
	}
	log.ID = int64(next) + 1
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	return s.put(auditKey(log.GuildID, log.CreatedAt, log.ID), log)
}

// ListAuditLogs returns the guild's entries created at or after since, newest first.
func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	var logs []AuditLog
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(auditPrefix + guildID + ":")
		start := []byte(auditPrefix + guildID + ":" + timeKey(since))
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var log AuditLog
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &log)
			}); err != nil {
				return err
			}
			logs = append(logs, log)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

// CleanupAuditLogs drops entries older than retentionDays across all guilds.
func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(auditPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			createdAt, ok := auditKeyTime(string(key))
			if ok && createdAt.Before(cutoff) {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan audit logs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range stale {
		if err := batch.Delete(key); err != nil {
			return 0, fmt.Errorf("delete audit log: %w", err)
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, fmt.Errorf("flush audit cleanup: %w", err)
	}
	return len(stale), nil
}

func auditKey(guildID string, createdAt time.Time, id int64) string {
	return auditPrefix + guildID + ":" + timeKey(createdAt) + ":" + strconv.FormatInt(id, 10)
}

func auditKeyTime(key string) (time.Time, bool) {
	parts := strings.Split(strings.TrimPrefix(key, auditPrefix), ":")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// timeKey renders a time so that byte order matches time order.
func timeKey(t time.Time) string {
	nanos := t.UnixNano()
	if nanos < 0 {
		nanos = 0
	}
	return fmt.Sprintf("%020d", nanos)
}

type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
