package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aegis-community/internal/antinuke"
)

const (
	EventTrip          = "antinuke_trip"
	EventProtected     = "antinuke_protected"
	EventContained     = "antinuke_contained"
	EventPunishFailed  = "antinuke_punish_failed"
	EventRestored      = "antinuke_restored"
	EventRestoreFailed = "antinuke_restore_failed"
	EventRevertFailed  = "antinuke_revert_failed"
	EventConfig        = "antinuke_config"
	EventLockdown      = "antinuke_lockdown"
	EventLockdownEnded = "antinuke_lockdown_ended"
	EventLockdownFail  = "antinuke_lockdown_fail"
)

// Decision writes the audit entries a decision warrants and reports whether
// anything was logged. Quiet, exempt and ignored decisions produce nothing.
func (l *Logger) Decision(ctx context.Context, decision antinuke.Decision) bool {
	guildID, userID := decision.Key.GuildID, decision.Key.ActorID
	switch decision.Verdict {
	case antinuke.VerdictTripped:
		detail := fmt.Sprintf("type=NUKE action=%s value=%d threshold=%d level=%d", decision.Action, decision.Count, decision.Limit, decision.Level)
		l.Log(ctx, LevelWarn, guildID, userID, EventTrip, detail+punishmentDetail(decision.Punishment))
	case antinuke.VerdictProtected:
		detail := fmt.Sprintf("type=NUKE action=%s protected=true level=%d", decision.Action, decision.Level)
		l.Log(ctx, LevelCrit, guildID, userID, EventProtected, detail+punishmentDetail(decision.Punishment))
		l.restoration(ctx, decision)
	case antinuke.VerdictContained:
		l.Log(ctx, LevelInfo, guildID, userID, EventContained, fmt.Sprintf("type=NUKE action=%s revert=%t", decision.Action, decision.Revert))
	default:
		return false
	}
	if p := decision.Punishment; p != nil && p.Failed() {
		l.Log(ctx, LevelWarn, guildID, userID, EventPunishFailed, fmt.Sprintf("incident=%s action=%s error=%q", p.IncidentID, p.Action, p.Error))
	}
	return true
}

func (l *Logger) restoration(ctx context.Context, decision antinuke.Decision) {
	guildID, userID := decision.Key.GuildID, decision.Key.ActorID
	switch {
	case decision.Restoration != nil:
		r := decision.Restoration
		detail := fmt.Sprintf("resource=%s type=%s name=%q new_id=%s lossy=%s", r.Snapshot.ID, r.Snapshot.Type, r.Snapshot.Name, r.NewID, strings.Join(r.Lossy, ","))
		l.Log(ctx, LevelInfo, guildID, userID, EventRestored, detail)
	case errors.Is(decision.RestoreErr, antinuke.ErrRestorationUnavailable) && !errors.Is(decision.RestoreErr, antinuke.ErrExternalActionFailed):
		l.Log(ctx, LevelCrit, guildID, userID, EventRestoreFailed, "reason=no_snapshot")
	case decision.RestoreErr != nil:
		l.Log(ctx, LevelCrit, guildID, userID, EventRestoreFailed, fmt.Sprintf("reason=platform error=%q", decision.RestoreErr.Error()))
	}
}

// Config records an administrator change to the guild policy.
func (l *Logger) Config(ctx context.Context, guildID, userID, change string) {
	l.Log(ctx, LevelInfo, guildID, userID, EventConfig, change)
}

func punishmentDetail(p *antinuke.PunishmentOutcome) string {
	if p == nil {
		return ""
	}
	status := "applied"
	if p.Failed() {
		status = "failed"
	}
	detail := fmt.Sprintf(" punishment=%s status=%s incident=%s", p.Action, status, p.IncidentID)
	if p.Duration > 0 {
		detail += fmt.Sprintf(" duration=%s", p.Duration)
	}
	return detail
}
