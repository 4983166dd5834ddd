package metrics

import (
	"errors"

	"aegis-community/internal/antinuke"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_antinuke_decisions_total",
			Help: "Anti-nuke decisions by verdict and action type",
		},
		[]string{"verdict", "action"},
	)

	Punishments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_antinuke_punishments_total",
			Help: "Punishment attempts by punishment and result",
		},
		[]string{"punishment", "result"},
	)

	Restorations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_antinuke_restorations_total",
			Help: "Restoration attempts by result",
		},
		[]string{"result"},
	)

	Reverts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_antinuke_reverts_total",
			Help: "Resources created by a contained actor and scheduled for deletion",
		},
	)

	SnapshotsCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_snapshots_captured_total",
			Help: "Server snapshots captured",
		},
	)

	SnapshotErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_snapshot_errors_total",
			Help: "Server snapshot captures that failed",
		},
	)

	AuditCleanupRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_audit_cleanup_removed_total",
			Help: "Audit entries removed by retention cleanup",
		},
	)
)

// Observer feeds engine decisions into the prometheus collectors.
type Observer struct{}

func (Observer) ObserveDecision(decision antinuke.Decision) {
	Decisions.WithLabelValues(string(decision.Verdict), string(decision.Action)).Inc()
	if p := decision.Punishment; p != nil {
		result := "applied"
		if p.Failed() {
			result = "failed"
		}
		Punishments.WithLabelValues(string(p.Action), result).Inc()
	}
	if decision.Verdict == antinuke.VerdictProtected {
		result := "restored"
		switch {
		case decision.RestoreErr != nil && decision.Restoration == nil:
			result = restorationFailure(decision.RestoreErr)
		case decision.Restoration == nil:
			result = "skipped"
		}
		Restorations.WithLabelValues(result).Inc()
	}
	if decision.Revert {
		Reverts.Inc()
	}
}

func (Observer) ObserveSnapshot(string) {
	SnapshotsCaptured.Inc()
}

func restorationFailure(err error) string {
	if errors.Is(err, antinuke.ErrExternalActionFailed) {
		return "platform_error"
	}
	return "unavailable"
}
