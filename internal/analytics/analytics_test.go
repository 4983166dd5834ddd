package analytics

import (
	"context"
	"testing"
	"time"

	"aegis-community/internal/storage"
)

func TestReportCountsLevelsEventsAndUsers(t *testing.T) {
	store, err := storage.New("", nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	entries := []storage.AuditLog{
		{GuildID: "g1", UserID: "u1", Level: "WARN", Event: "antinuke_trip", CreatedAt: now.Add(-time.Minute)},
		{GuildID: "g1", UserID: "u1", Level: "CRIT", Event: "antinuke_protected", CreatedAt: now.Add(-2 * time.Minute)},
		{GuildID: "g1", UserID: "u2", Level: "WARN", Event: "antinuke_trip", CreatedAt: now.Add(-3 * time.Minute)},
		{GuildID: "g1", UserID: "u3", Level: "INFO", Event: "antinuke_config", CreatedAt: now.Add(-48 * time.Hour)},
		{GuildID: "g2", UserID: "u1", Level: "WARN", Event: "antinuke_trip", CreatedAt: now},
	}
	for _, entry := range entries {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	report, err := New(store).Report(ctx, "g1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 3 {
		t.Fatalf("expected 3 entries, got %d", report.Total)
	}
	if report.ByLevel["WARN"] != 2 || report.ByEvent["antinuke_protected"] != 1 {
		t.Fatalf("unexpected breakdown %+v %+v", report.ByLevel, report.ByEvent)
	}
	if len(report.TopUsers) != 2 || report.TopUsers[0].UserID != "u1" || report.TopUsers[0].Count != 2 {
		t.Fatalf("unexpected top users %+v", report.TopUsers)
	}
}
