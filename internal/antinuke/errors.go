package antinuke

import (
	"errors"
	"fmt"
)

var (
	ErrConfigurationMissing   = errors.New("antinuke: no policy stored for guild")
	ErrExternalActionFailed   = errors.New("antinuke: moderation action failed")
	ErrRestorationUnavailable = errors.New("antinuke: no snapshot available for restoration")
	ErrInvalidRuleConfig      = errors.New("antinuke: invalid rule configuration")
)

// ExternalActionError carries the platform error behind a failed punishment
// or restoration call.
type ExternalActionError struct {
	Action string
	Err    error
}

func (e *ExternalActionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ExternalActionError) Unwrap() error {
	return e.Err
}

func (e *ExternalActionError) Is(target error) bool {
	return target == ErrExternalActionFailed
}
