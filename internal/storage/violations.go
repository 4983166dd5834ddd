package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aegis-community/internal/antinuke"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ViolationRecord is the lifetime punishment tally for one actor in one guild.
type ViolationRecord struct {
	GuildID      string                      `json:"guild_id"`
	UserID       string                      `json:"user_id"`
	CountTotal   int                         `json:"count_total"`
	ByTrigger    map[antinuke.ActionType]int `json:"by_trigger"`
	LastAt       time.Time                   `json:"last_at"`
	LastAction   antinuke.Punishment         `json:"last_action"`
	LastFailed   bool                        `json:"last_failed"`
	LastIncident string                      `json:"last_incident"`
}

func (s *Store) GetViolations(ctx context.Context, guildID, userID string) (ViolationRecord, error) {
	var record ViolationRecord
	err := s.get(violationPrefix+guildID+":"+userID, &record)
	if errors.Is(err, ErrNotFound) {
		return ViolationRecord{GuildID: guildID, UserID: userID}, nil
	}
	return record, err
}

// ArchiveOutcome folds a punishment outcome into the actor's tally.
func (s *Store) ArchiveOutcome(ctx context.Context, outcome antinuke.PunishmentOutcome) error {
	key := []byte(violationPrefix + outcome.GuildID + ":" + outcome.ActorID)
	return s.db.Update(func(txn *badger.Txn) error {
		record := ViolationRecord{GuildID: outcome.GuildID, UserID: outcome.ActorID}
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get violations: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
		}

		if record.ByTrigger == nil {
			record.ByTrigger = make(map[antinuke.ActionType]int)
		}
		record.CountTotal++
		record.ByTrigger[outcome.Trigger]++
		record.LastAt = outcome.AppliedAt
		record.LastAction = outcome.Action
		record.LastFailed = outcome.Failed()
		record.LastIncident = outcome.IncidentID

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal violations: %w", err)
		}
		return txn.Set(key, data)
	})
}
