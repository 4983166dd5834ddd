package storage

import (
	"context"
	"errors"
	"fmt"

	"aegis-community/internal/antinuke"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

var (
	_ antinuke.Store    = (*Store)(nil)
	_ antinuke.Archiver = (*Store)(nil)
)

func (s *Store) LoadPolicy(ctx context.Context, guildID string) (antinuke.Policy, bool, error) {
	var policy antinuke.Policy
	err := s.get(policyPrefix+guildID, &policy)
	if errors.Is(err, ErrNotFound) {
		return antinuke.Policy{}, false, nil
	}
	if err != nil {
		return antinuke.Policy{}, false, err
	}
	return policy, true, nil
}

func (s *Store) SavePolicy(ctx context.Context, guildID string, policy antinuke.Policy) error {
	return s.put(policyPrefix+guildID, policy)
}

func (s *Store) LoadExemptions(ctx context.Context, guildID string) ([]antinuke.Exemption, error) {
	var exemptions []antinuke.Exemption
	err := s.get(exemptionsPrefix+guildID, &exemptions)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return exemptions, err
}

// SaveExemptions replaces the guild's exemption list as a whole.
func (s *Store) SaveExemptions(ctx context.Context, guildID string, exemptions []antinuke.Exemption) error {
	if len(exemptions) == 0 {
		return s.db.Update(func(txn *badger.Txn) error {
			err := txn.Delete([]byte(exemptionsPrefix + guildID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		})
	}
	return s.put(exemptionsPrefix+guildID, exemptions)
}

// LoadSnapshots returns the guild's persisted snapshots, oldest first.
func (s *Store) LoadSnapshots(ctx context.Context, guildID string) ([]antinuke.ServerSnapshot, error) {
	var snapshots []antinuke.ServerSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(snapshotPrefix + guildID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var snapshot antinuke.ServerSnapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snapshot)
			}); err != nil {
				return err
			}
			snapshots = append(snapshots, snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	return snapshots, nil
}

// SaveSnapshot writes the snapshot and deletes all but the newest retain
// snapshots for the guild in the same transaction.
func (s *Store) SaveSnapshot(ctx context.Context, guildID string, snapshot antinuke.ServerSnapshot, retain int) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(snapshotPrefix + guildID + ":" + timeKey(snapshot.CapturedAt))
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set snapshot: %w", err)
		}
		if retain <= 0 {
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		prefix := []byte(snapshotPrefix + guildID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		if len(keys) <= retain {
			return nil
		}
		for _, stale := range keys[:len(keys)-retain] {
			if err := txn.Delete(stale); err != nil {
				return fmt.Errorf("evict snapshot: %w", err)
			}
		}
		return nil
	})
}
