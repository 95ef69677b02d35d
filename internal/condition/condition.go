// Package condition classifies the IAM condition expressions that mark
// a role binding as JIT-eligible, MPA-eligible, or as an activated
// temporary grant.
//
// The eligibility markers are pseudo-expressions that always evaluate
// CONDITIONAL on the platform. They are matched as opaque strings after
// trimming; a condition carrying any additional conjunct is not
// recognized. Structural matching keeps eligibility auditable by
// byte-for-byte comparison of the condition text and avoids dragging a
// CEL evaluator into the service.
package condition

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	jitConstraint = "has({}.jitAccessConstraint)"
	mpaConstraint = "has({}.multiPartyApprovalConstraint)"

	// TemporaryAccessTitle is the reserved condition title that
	// distinguishes bindings created by an activation from permanent
	// conditional bindings.
	TemporaryAccessTitle = "JIT access activation"
)

var temporaryAccessPattern = regexp.MustCompile(
	`^\s*\(request\.time >= timestamp\("(.+?)"\) && request\.time < timestamp\("(.+?)"\)\)\s*$`)

// IsJitConstraint reports whether the expression is the JIT eligibility
// marker.
func IsJitConstraint(expression string) bool {
	return strings.EqualFold(strings.TrimSpace(expression), jitConstraint)
}

// IsMultiPartyApprovalConstraint reports whether the expression is the
// MPA eligibility marker.
func IsMultiPartyApprovalConstraint(expression string) bool {
	return strings.EqualFold(strings.TrimSpace(expression), mpaConstraint)
}

// IsTemporaryAccess reports whether a condition title identifies an
// activated temporary grant.
func IsTemporaryAccess(title string) bool {
	return title == TemporaryAccessTitle
}

// TemporaryAccess is a time-bounded condition produced for an
// activation.
type TemporaryAccess struct {
	Title      string
	Expression string
}

// NewTemporaryAccess creates the condition that limits a binding to the
// window [start, start+duration). Timestamps are UTC, truncated to
// seconds.
func NewTemporaryAccess(start time.Time, duration time.Duration) TemporaryAccess {
	begin := start.UTC().Truncate(time.Second)
	end := begin.Add(duration)

	return TemporaryAccess{
		Title: TemporaryAccessTitle,
		Expression: fmt.Sprintf(
			`(request.time >= timestamp("%s") && request.time < timestamp("%s"))`,
			begin.Format(time.RFC3339),
			end.Format(time.RFC3339)),
	}
}

// Evaluate parses a temporary access expression and reports whether it
// permits access at the given instant, i.e. start <= now < end.
// Unparseable expressions evaluate to false.
func Evaluate(expression string, now time.Time) bool {
	match := temporaryAccessPattern.FindStringSubmatch(expression)
	if match == nil {
		return false
	}

	start, err := time.Parse(time.RFC3339, match[1])
	if err != nil {
		return false
	}

	end, err := time.Parse(time.RFC3339, match[2])
	if err != nil {
		return false
	}

	return !now.Before(start) && now.Before(end)
}
