package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsJitConstraint(t *testing.T) {
	assert.True(t, IsJitConstraint(`has({}.jitAccessConstraint)`))
	assert.True(t, IsJitConstraint(`  has({}.jitAccessConstraint)  `))
	assert.True(t, IsJitConstraint(`HAS({}.JitAccessConstraint)`))

	// Any extra conjunct disqualifies the condition.
	assert.False(t, IsJitConstraint(`has({}.jitAccessConstraint) && resource.name == "x"`))
	assert.False(t, IsJitConstraint(`has({}.multiPartyApprovalConstraint)`))
	assert.False(t, IsJitConstraint(""))
}

func TestIsMultiPartyApprovalConstraint(t *testing.T) {
	assert.True(t, IsMultiPartyApprovalConstraint(`has({}.multiPartyApprovalConstraint)`))
	assert.True(t, IsMultiPartyApprovalConstraint("\thas({}.multipartyapprovalconstraint)\n"))

	assert.False(t, IsMultiPartyApprovalConstraint(`has({}.jitAccessConstraint)`))
	assert.False(t, IsMultiPartyApprovalConstraint(`true && has({}.multiPartyApprovalConstraint)`))
}

func TestIsTemporaryAccess(t *testing.T) {
	assert.True(t, IsTemporaryAccess("JIT access activation"))
	assert.False(t, IsTemporaryAccess("jit access activation"))
	assert.False(t, IsTemporaryAccess(""))
}

func TestNewTemporaryAccess(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 30, 45, 999000000, time.UTC)
	cond := NewTemporaryAccess(start, 5*time.Minute)

	assert.Equal(t, "JIT access activation", cond.Title)
	assert.Equal(t,
		`(request.time >= timestamp("2024-03-01T10:30:45Z") && request.time < timestamp("2024-03-01T10:35:45Z"))`,
		cond.Expression)
}

func TestNewTemporaryAccessConvertsToUtc(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, zone)

	cond := NewTemporaryAccess(start, time.Hour)
	assert.Contains(t, cond.Expression, `timestamp("2024-03-01T10:00:00Z")`)
}

func TestEvaluateWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cond := NewTemporaryAccess(start, time.Hour)

	assert.False(t, Evaluate(cond.Expression, start.Add(-time.Second)))
	assert.True(t, Evaluate(cond.Expression, start))
	assert.True(t, Evaluate(cond.Expression, start.Add(59*time.Minute)))

	// The end of the window is exclusive.
	assert.False(t, Evaluate(cond.Expression, start.Add(time.Hour)))
	assert.False(t, Evaluate(cond.Expression, start.Add(2*time.Hour)))
}

func TestEvaluateRejectsMalformedExpressions(t *testing.T) {
	now := time.Now()

	assert.False(t, Evaluate("", now))
	assert.False(t, Evaluate(`has({}.jitAccessConstraint)`, now))
	assert.False(t, Evaluate(`(request.time >= timestamp("not-a-time") && request.time < timestamp("2024-03-01T10:00:00Z"))`, now))
	assert.False(t, Evaluate(`(request.time >= timestamp("2024-03-01T10:00:00Z"))`, now))
}
