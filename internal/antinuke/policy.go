package antinuke

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// PolicyVersion is bumped whenever the stored policy layout changes.
const PolicyVersion = 1

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Policy is the per-guild anti-nuke configuration. It is only ever replaced
// as a whole; maps are never edited in place once a policy is installed.
type Policy struct {
	Version           int                       `json:"version"`
	Enabled           bool                      `json:"enabled"`
	LogChannelID      string                    `json:"log_channel_id,omitempty"`
	Rules             map[ActionType]RuleConfig `json:"rules" validate:"dive"`
	Severity          map[ActionType]Level      `json:"severity" validate:"dive,min=1,max=5"`
	Escalation        EscalationTable           `json:"escalation" validate:"required,min=1,dive,keys,min=1,max=5,endkeys"`
	ProtectedSeverity map[ResourceType]Level    `json:"protected_severity,omitempty" validate:"dive,min=1,max=5"`
	Protected         []ProtectedResource       `json:"protected,omitempty" validate:"dive"`
	ContainWindow     time.Duration             `json:"contain_window,omitempty" validate:"min=0"`
}

// DefaultPolicy is the built-in policy used when a guild has none stored.
func DefaultPolicy() Policy {
	return Policy{
		Version: PolicyVersion,
		Enabled: true,
		Rules: map[ActionType]RuleConfig{
			ActionChannelCreate: {Limit: 3, Window: 10 * time.Second},
			ActionChannelDelete: {Limit: 2, Window: 10 * time.Second},
			ActionChannelUpdate: {Limit: 5, Window: 10 * time.Second},
			ActionRoleCreate:    {Limit: 3, Window: 10 * time.Second},
			ActionRoleDelete:    {Limit: 2, Window: 10 * time.Second},
			ActionRoleUpdate:    {Limit: 5, Window: 10 * time.Second},
			ActionMemberBan:     {Limit: 3, Window: 10 * time.Second},
			ActionMemberKick:    {Limit: 3, Window: 10 * time.Second},
			ActionBotAdd:        {Limit: 1, Window: time.Minute},
			ActionWebhookCreate: {Limit: 3, Window: 10 * time.Second},
			ActionGuildUpdate:   {Limit: 2, Window: time.Minute},
		},
		Severity: map[ActionType]Level{
			ActionChannelCreate: 2,
			ActionRoleCreate:    2,
			ActionChannelUpdate: 1,
			ActionRoleUpdate:    1,
			ActionChannelDelete: 3,
			ActionRoleDelete:    3,
			ActionWebhookCreate: 3,
			ActionGuildUpdate:   3,
			ActionMemberKick:    4,
			ActionMemberBan:     4,
			ActionBotAdd:        4,
		},
		Escalation: DefaultEscalation(),
	}
}

// Clone returns a deep copy so callers can edit it before installing it.
func (p Policy) Clone() Policy {
	out := p
	out.Rules = maps.Clone(p.Rules)
	out.Severity = maps.Clone(p.Severity)
	out.Escalation = maps.Clone(p.Escalation)
	out.ProtectedSeverity = maps.Clone(p.ProtectedSeverity)
	out.Protected = slices.Clone(p.Protected)
	return out
}

// Normalize fills the parts a stored policy left empty from defaults.
func (p Policy) Normalize(defaults Policy) Policy {
	out := p.Clone()
	if out.Version == 0 {
		out.Version = PolicyVersion
	}
	if out.Rules == nil {
		out.Rules = maps.Clone(defaults.Rules)
	}
	if out.Severity == nil {
		out.Severity = maps.Clone(defaults.Severity)
	}
	if len(out.Escalation) == 0 {
		out.Escalation = maps.Clone(defaults.Escalation)
	}
	if out.ProtectedSeverity == nil && defaults.ProtectedSeverity != nil {
		out.ProtectedSeverity = maps.Clone(defaults.ProtectedSeverity)
	}
	return out
}

// Validate rejects a policy that must never reach the store.
func (p Policy) Validate() error {
	for action, rule := range p.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", action, err)
		}
	}
	if err := validatorInstance().Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRuleConfig, strings.Join(parts, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRuleConfig, err)
	}
	return nil
}

func (p Policy) Rule(action ActionType) (RuleConfig, bool) {
	rule, ok := p.Rules[action]
	return rule, ok
}

// WithRule returns a copy carrying the new rule, or ErrInvalidRuleConfig.
func (p Policy) WithRule(action ActionType, rule RuleConfig) (Policy, error) {
	if err := rule.Validate(); err != nil {
		return p, err
	}
	out := p.Clone()
	if out.Rules == nil {
		out.Rules = make(map[ActionType]RuleConfig)
	}
	out.Rules[action] = rule
	return out, nil
}

// SeverityFor returns the fixed level configured for an action type.
func (p Policy) SeverityFor(action ActionType) Level {
	if level, ok := p.Severity[action]; ok {
		return level
	}
	return LevelMin
}

// ProtectedLevel is the level applied when a protected resource of the given
// class is deleted. It falls back to the table's highest level.
func (p Policy) ProtectedLevel(resourceType ResourceType) Level {
	if level, ok := p.ProtectedSeverity[resourceType]; ok {
		return level
	}
	if max := p.Escalation.MaxLevel(); max > 0 {
		return max
	}
	return LevelMax
}

// ContainFor is how long an actor stays held after tripping a rule.
func (p Policy) ContainFor(rule RuleConfig) time.Duration {
	if p.ContainWindow > 0 {
		return p.ContainWindow
	}
	return rule.Window
}

func (p Policy) IsProtected(resourceID string, resourceType ResourceType) bool {
	return slices.ContainsFunc(p.Protected, func(r ProtectedResource) bool {
		return r.ResourceID == resourceID && r.ResourceType == resourceType
	})
}

// WithProtected returns a copy with the resource added. Adding twice is a no-op.
func (p Policy) WithProtected(resource ProtectedResource) Policy {
	out := p.Clone()
	if out.IsProtected(resource.ResourceID, resource.ResourceType) {
		return out
	}
	out.Protected = append(out.Protected, resource)
	return out
}

// WithProtectedRebound moves protection from a deleted resource to the one
// that replaced it. It reports false when oldID was not protected.
func (p Policy) WithProtectedRebound(oldID, newID string) (Policy, bool) {
	out := p.Clone()
	moved := false
	for i, resource := range out.Protected {
		if resource.ResourceID == oldID {
			out.Protected[i].ResourceID = newID
			moved = true
		}
	}
	return out, moved
}

func (p Policy) WithoutProtected(resourceID string) (Policy, bool) {
	out := p.Clone()
	before := len(out.Protected)
	out.Protected = slices.DeleteFunc(out.Protected, func(r ProtectedResource) bool {
		return r.ResourceID == resourceID
	})
	return out, len(out.Protected) != before
}
