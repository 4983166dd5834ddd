package supervisor

import (
	"context"
	"time"

	"aegis-community/internal/antinuke"
	"aegis-community/internal/metrics"

	"go.uber.org/zap"
)

// SnapshotSource lists guilds and reads their reconstructible resources.
type SnapshotSource interface {
	Guilds() []string
	FetchSnapshot(ctx context.Context, guildID string) (antinuke.ServerSnapshot, error)
}

type SnapshotSink interface {
	CaptureSnapshot(ctx context.Context, snapshot antinuke.ServerSnapshot) error
}

// Maintenance is the storage housekeeping run on the snapshot cadence.
type Maintenance interface {
	CleanupAuditLogs(ctx context.Context, retentionDays int) (int, error)
	RunGC() error
}

// SnapshotService captures every guild on a fixed cadence. It only triggers
// captures; retention lives in the restoration ring and the store.
type SnapshotService struct {
	source        SnapshotSource
	sink          SnapshotSink
	maintenance   Maintenance
	interval      time.Duration
	retentionDays int
	logger        *zap.Logger
}

func NewSnapshotService(source SnapshotSource, sink SnapshotSink, maintenance Maintenance, interval time.Duration, retentionDays int, logger *zap.Logger) *SnapshotService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &SnapshotService{
		source:        source,
		sink:          sink,
		maintenance:   maintenance,
		interval:      interval,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Serve captures once at startup so restarts never leave a guild without a
// snapshot for a full interval.
func (s *SnapshotService) Serve(ctx context.Context) error {
	s.RunOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce captures all guilds, then runs storage maintenance.
func (s *SnapshotService) RunOnce(ctx context.Context) {
	for _, guildID := range s.source.Guilds() {
		if ctx.Err() != nil {
			return
		}
		snapshot, err := s.source.FetchSnapshot(ctx, guildID)
		if err == nil {
			err = s.sink.CaptureSnapshot(ctx, snapshot)
		}
		if err != nil {
			metrics.SnapshotErrors.Inc()
			s.logger.Warn("snapshot capture failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
	if s.maintenance == nil {
		return
	}
	removed, err := s.maintenance.CleanupAuditLogs(ctx, s.retentionDays)
	if err != nil {
		s.logger.Warn("audit cleanup failed", zap.Error(err))
	} else if removed > 0 {
		metrics.AuditCleanupRemoved.Add(float64(removed))
		s.logger.Info("audit cleanup", zap.Int("removed", removed))
	}
	if err := s.maintenance.RunGC(); err != nil {
		s.logger.Warn("value log gc failed", zap.Error(err))
	}
}

func (s *SnapshotService) String() string {
	return "snapshot-scheduler"
}
