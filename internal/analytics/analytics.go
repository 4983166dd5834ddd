package analytics

import (
	"context"
	"slices"
	"strings"
	"time"

	"aegis-community/internal/storage"
)

type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store Source
}

func New(store Source) *Service {
	return &Service{store: store}
}

type Report struct {
	GuildID  string         `json:"guild_id"`
	Since    time.Time      `json:"since"`
	Total    int            `json:"total"`
	ByLevel  map[string]int `json:"by_level"`
	ByEvent  map[string]int `json:"by_event"`
	TopUsers []UserCount    `json:"top_users"`
}

type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

const topUsers = 5

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		GuildID: guildID,
		Since:   since,
		ByLevel: make(map[string]int),
		ByEvent: make(map[string]int),
	}
	perUser := make(map[string]int)
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
		if log.UserID != "" {
			perUser[log.UserID]++
		}
	}
	report.TopUsers = rankUsers(perUser, topUsers)
	return report, nil
}

// rankUsers orders by count, then user ID, and keeps the first n.
func rankUsers(counts map[string]int, n int) []UserCount {
	ranked := make([]UserCount, 0, len(counts))
	for userID, count := range counts {
		ranked = append(ranked, UserCount{UserID: userID, Count: count})
	}
	slices.SortFunc(ranked, func(a, b UserCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
