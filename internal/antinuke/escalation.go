package antinuke

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Level selects a punishment from the escalation table. Higher is harsher.
type Level int

const (
	LevelMin Level = 1
	LevelMax Level = 5
)

type Punishment string

const (
	PunishWarn     Punishment = "warn"
	PunishMute     Punishment = "mute"
	PunishKick     Punishment = "kick"
	PunishBan      Punishment = "ban"
	PunishPermaban Punishment = "permaban"
)

type EscalationStep struct {
	Action   Punishment    `json:"action" validate:"oneof=warn mute kick ban permaban"`
	Duration time.Duration `json:"duration,omitempty" validate:"min=0"`
}

// EscalationTable maps a severity level to the punishment applied at that level.
type EscalationTable map[Level]EscalationStep

func DefaultEscalation() EscalationTable {
	return EscalationTable{
		1: {Action: PunishWarn},
		2: {Action: PunishMute, Duration: 10 * time.Minute},
		3: {Action: PunishKick},
		4: {Action: PunishBan},
		5: {Action: PunishPermaban},
	}
}

func (t EscalationTable) levels() []Level {
	levels := make([]Level, 0, len(t))
	for level := range t {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels
}

// MaxLevel returns the highest configured level, or zero for an empty table.
func (t EscalationTable) MaxLevel() Level {
	levels := t.levels()
	if len(levels) == 0 {
		return 0
	}
	return levels[len(levels)-1]
}

// Resolve returns the step for level. A level without an entry uses the
// closest configured level below it, then the lowest configured level.
func (t EscalationTable) Resolve(level Level) (Level, EscalationStep, bool) {
	if step, ok := t[level]; ok {
		return level, step, true
	}
	levels := t.levels()
	if len(levels) == 0 {
		return 0, EscalationStep{}, false
	}
	chosen := levels[0]
	for _, candidate := range levels {
		if candidate > level {
			break
		}
		chosen = candidate
	}
	return chosen, t[chosen], true
}

// Moderator performs punishments against the platform. The engine decides
// what to do, the moderator decides how.
type Moderator interface {
	Warn(ctx context.Context, guildID, userID, reason string) error
	Mute(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string, permanent bool) error
}

type PunishmentOutcome struct {
	IncidentID string        `json:"incident_id"`
	GuildID    string        `json:"guild_id"`
	ActorID    string        `json:"actor_id"`
	Level      Level         `json:"level"`
	Action     Punishment    `json:"action"`
	Trigger    ActionType    `json:"trigger"`
	Reason     string        `json:"reason"`
	AppliedAt  time.Time     `json:"applied_at"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
	Err        error         `json:"-"`
}

func (o PunishmentOutcome) Failed() bool {
	return o.Err != nil
}

// Punish makes exactly one attempt at the punishment for level. Failures are
// recorded on the outcome and never retried or escalated.
func Punish(ctx context.Context, moderator Moderator, key ActorKey, level Level, table EscalationTable, trigger ActionType, reason string, now time.Time) PunishmentOutcome {
	outcome := PunishmentOutcome{
		IncidentID: uuid.NewString(),
		GuildID:    key.GuildID,
		ActorID:    key.ActorID,
		Level:      level,
		Trigger:    trigger,
		Reason:     reason,
		AppliedAt:  now,
	}

	resolved, step, ok := table.Resolve(level)
	if !ok {
		outcome.Err = &ExternalActionError{Action: "resolve", Err: errors.New("escalation table is empty")}
		outcome.Error = outcome.Err.Error()
		return outcome
	}
	outcome.Level = resolved
	outcome.Action = step.Action
	outcome.Duration = step.Duration

	if moderator == nil {
		outcome.Err = &ExternalActionError{Action: string(step.Action), Err: errors.New("no moderator configured")}
		outcome.Error = outcome.Err.Error()
		return outcome
	}

	var err error
	switch step.Action {
	case PunishWarn:
		err = moderator.Warn(ctx, key.GuildID, key.ActorID, reason)
	case PunishMute:
		err = moderator.Mute(ctx, key.GuildID, key.ActorID, step.Duration, reason)
	case PunishKick:
		err = moderator.Kick(ctx, key.GuildID, key.ActorID, reason)
	case PunishBan:
		err = moderator.Ban(ctx, key.GuildID, key.ActorID, reason, false)
	case PunishPermaban:
		err = moderator.Ban(ctx, key.GuildID, key.ActorID, reason, true)
	default:
		err = fmt.Errorf("unknown punishment %q", step.Action)
	}
	if err != nil {
		outcome.Err = &ExternalActionError{Action: string(step.Action), Err: err}
		outcome.Error = outcome.Err.Error()
	}
	return outcome
}
