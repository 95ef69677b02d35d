package catalog

import (
	"fmt"
	"regexp"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
)

// JustificationPolicy validates the justification a user supplies with
// an activation request against a configured pattern.
type JustificationPolicy struct {
	pattern *regexp.Regexp
	hint    string
}

// NewJustificationPolicy compiles the configured justification pattern.
// The hint is shown to users to describe what kind of justification is
// expected.
func NewJustificationPolicy(pattern, hint string) (*JustificationPolicy, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid justification pattern %q: %w", pattern, err)
	}

	return &JustificationPolicy{
		pattern: compiled,
		hint:    hint,
	}, nil
}

// Check validates a justification. Fails with InvalidArgument when the
// justification is empty or does not match the configured pattern.
func (p *JustificationPolicy) Check(justification string) error {
	if justification == "" || !p.pattern.MatchString(justification) {
		return apierror.InvalidArgument(fmt.Sprintf(
			"justification does not meet criteria: %s", p.hint)).Err()
	}
	return nil
}

// Hint returns the human-readable description of the expected
// justification.
func (p *JustificationPolicy) Hint() string {
	return p.hint
}
