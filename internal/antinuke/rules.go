package antinuke

import (
	"fmt"
	"time"
)

// RuleConfig is the trip threshold for one action type.
type RuleConfig struct {
	Limit  int           `json:"limit" validate:"min=1"`
	Window time.Duration `json:"window" validate:"gt=0"`
}

func (r RuleConfig) Validate() error {
	if r.Limit < 1 {
		return fmt.Errorf("%w: limit must be at least 1, got %d", ErrInvalidRuleConfig, r.Limit)
	}
	if r.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidRuleConfig, r.Window)
	}
	return nil
}

type Evaluation struct {
	Tripped bool
	Count   int
}

// Evaluate compares the recent count against the rule. It must run after the
// current event was recorded so that the event reaching the limit trips.
// The evaluator never resets the window.
func Evaluate(counter *Counter, key ActorKey, action ActionType, rule RuleConfig, now time.Time) Evaluation {
	count := counter.CountRecent(key, action, now, rule.Window)
	return Evaluation{Tripped: count >= rule.Limit, Count: count}
}
