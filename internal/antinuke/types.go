package antinuke

import "time"

// ActorKey scopes counters and exemptions to one guild and one acting user.
type ActorKey struct {
	GuildID string
	ActorID string
}

func (k ActorKey) String() string {
	return k.GuildID + ":" + k.ActorID
}

type ActionType string

const (
	ActionChannelCreate ActionType = "channel_create"
	ActionChannelDelete ActionType = "channel_delete"
	ActionChannelUpdate ActionType = "channel_update"
	ActionRoleCreate    ActionType = "role_create"
	ActionRoleDelete    ActionType = "role_delete"
	ActionRoleUpdate    ActionType = "role_update"
	ActionMemberBan     ActionType = "member_ban"
	ActionMemberKick    ActionType = "member_kick"
	ActionBotAdd        ActionType = "bot_add"
	ActionWebhookCreate ActionType = "webhook_create"
	ActionGuildUpdate   ActionType = "guild_update"
)

// Actions lists every tracked action type in display order.
var Actions = []ActionType{
	ActionChannelCreate,
	ActionChannelDelete,
	ActionChannelUpdate,
	ActionRoleCreate,
	ActionRoleDelete,
	ActionRoleUpdate,
	ActionMemberBan,
	ActionMemberKick,
	ActionBotAdd,
	ActionWebhookCreate,
	ActionGuildUpdate,
}

func ParseAction(value string) (ActionType, bool) {
	for _, action := range Actions {
		if string(action) == value {
			return action, true
		}
	}
	return "", false
}

// IsCreate reports whether the action brings a new resource into the guild.
func (a ActionType) IsCreate() bool {
	switch a {
	case ActionChannelCreate, ActionRoleCreate, ActionWebhookCreate:
		return true
	default:
		return false
	}
}

func (a ActionType) IsDelete() bool {
	return a == ActionChannelDelete || a == ActionRoleDelete
}

type ResourceType string

const (
	ResourceChannel  ResourceType = "channel"
	ResourceRole     ResourceType = "role"
	ResourceCategory ResourceType = "category"
)

func ParseResourceType(value string) (ResourceType, bool) {
	switch ResourceType(value) {
	case ResourceChannel, ResourceRole, ResourceCategory:
		return ResourceType(value), true
	default:
		return "", false
	}
}

// Event is one moderation-relevant change observed in a guild.
type Event struct {
	GuildID      string
	ActorID      string
	Action       ActionType
	ResourceID   string
	ResourceType ResourceType
	Timestamp    time.Time
}

type Verdict string

const (
	VerdictIgnored   Verdict = "ignored"
	VerdictExempt    Verdict = "exempt"
	VerdictQuiet     Verdict = "quiet"
	VerdictTripped   Verdict = "tripped"
	VerdictProtected Verdict = "protected"
	VerdictContained Verdict = "contained"
)

// Decision is the typed result of running one event through the gate sequence.
type Decision struct {
	Verdict     Verdict
	Key         ActorKey
	Action      ActionType
	Count       int
	Limit       int
	Level       Level
	Revert      bool
	Punishment  *PunishmentOutcome
	Restoration *RestoredResource
	RestoreErr  error
}
