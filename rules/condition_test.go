package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matcher(key, op string, values ...any) *Condition {
	return &Condition{
		Type: ConditionTypeMatcher,
		Definition: ConditionDefinition{
			Key:     key,
			Matcher: op,
			Values:  values,
		},
	}
}

func group(logic string, children ...*Condition) *Condition {
	return &Condition{
		Type: ConditionTypeGroup,
		Definition: ConditionDefinition{
			Logic:      logic,
			Conditions: children,
		},
	}
}

func TestConditionMatchers(t *testing.T) {
	context := map[string]any{
		"app.version":  "2.4.1",
		"user.plan":    "premium",
		"launch.count": 12.0,
	}

	tests := []struct {
		name      string
		condition *Condition
		expected  bool
	}{
		{"eq_match", matcher("user.plan", MatcherEquals, "premium"), true},
		{"eq_miss", matcher("user.plan", MatcherEquals, "free"), false},
		{"eq_any_value", matcher("user.plan", MatcherEquals, "free", "premium"), true},
		{"ne_match", matcher("user.plan", MatcherNotEquals, "free"), true},
		{"ne_rejects_when_any_candidate_equals", matcher("user.plan", MatcherNotEquals, "free", "premium"), false},
		{"exists", matcher("user.plan", MatcherExists), true},
		{"not_exists", matcher("user.tier", MatcherNotExists), true},
		{"not_exists_miss", matcher("user.plan", MatcherNotExists), false},
		{"contains", matcher("app.version", MatcherContains, "4.1"), true},
		{"not_contains", matcher("app.version", MatcherNotContains, "beta"), true},
		{"starts_with", matcher("app.version", MatcherStartsWith, "2."), true},
		{"ends_with", matcher("app.version", MatcherEndsWith, ".1"), true},
		{"gt_match", matcher("launch.count", MatcherGreaterThan, 10.0), true},
		{"gt_miss", matcher("launch.count", MatcherGreaterThan, 20.0), false},
		{"ge_boundary", matcher("launch.count", MatcherGreaterOrEqual, 12.0), true},
		{"lt_match", matcher("launch.count", MatcherLessThan, 13.0), true},
		{"le_boundary", matcher("launch.count", MatcherLessOrEqual, 12.0), true},
		{"regex_match", matcher("app.version", MatcherRegex, `^2\.\d+\.\d+$`), true},
		{"regex_miss", matcher("app.version", MatcherRegex, `^3\.`), false},
		{"missing_key_fails", matcher("user.tier", MatcherEquals, "gold"), false},
		{"int_candidate_compares_numerically", matcher("launch.count", MatcherGreaterThan, 10), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.condition.Evaluate(context)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestConditionGroups(t *testing.T) {
	context := map[string]any{
		"user.plan":    "premium",
		"launch.count": 12.0,
	}

	tests := []struct {
		name      string
		condition *Condition
		expected  bool
	}{
		{
			name: "and_all_match",
			condition: group(LogicAnd,
				matcher("user.plan", MatcherEquals, "premium"),
				matcher("launch.count", MatcherGreaterThan, 10.0),
			),
			expected: true,
		},
		{
			name: "and_one_misses",
			condition: group(LogicAnd,
				matcher("user.plan", MatcherEquals, "premium"),
				matcher("launch.count", MatcherGreaterThan, 20.0),
			),
			expected: false,
		},
		{
			name: "or_one_matches",
			condition: group(LogicOr,
				matcher("user.plan", MatcherEquals, "free"),
				matcher("launch.count", MatcherGreaterThan, 10.0),
			),
			expected: true,
		},
		{
			name: "not_inverts",
			condition: group(LogicNot,
				matcher("user.plan", MatcherEquals, "free"),
			),
			expected: true,
		},
		{
			name: "not_rejects_match",
			condition: group(LogicNot,
				matcher("user.plan", MatcherEquals, "premium"),
			),
			expected: false,
		},
		{
			name: "nested_groups",
			condition: group(LogicAnd,
				matcher("launch.count", MatcherGreaterOrEqual, 10.0),
				group(LogicOr,
					matcher("user.plan", MatcherEquals, "premium"),
					matcher("user.plan", MatcherEquals, "trial"),
				),
			),
			expected: true,
		},
		{
			name:      "empty_group_passes",
			condition: group(LogicAnd),
			expected:  true,
		},
		{
			name:      "default_logic_is_or",
			condition: group("", matcher("user.plan", MatcherEquals, "premium")),
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.condition.Evaluate(context)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestConditionErrors(t *testing.T) {
	context := map[string]any{"key": "value"}

	_, err := (&Condition{Type: "telemetry"}).Evaluate(context)
	assert.Error(t, err)

	_, err = matcher("key", "approx", "value").Evaluate(context)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "approx", evalErr.Matcher)

	_, err = group("xor", matcher("key", MatcherEquals, "value")).Evaluate(context)
	assert.Error(t, err)
}

func TestNilConditionMatchesEverything(t *testing.T) {
	var c *Condition
	result, err := c.Evaluate(map[string]any{})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestConditionJSONDecoding(t *testing.T) {
	raw := `{
		"type": "group",
		"definition": {
			"logic": "and",
			"conditions": [
				{"type": "matcher", "definition": {"key": "user.plan", "matcher": "eq", "values": ["premium"]}}
			]
		}
	}`

	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	result, err := c.Evaluate(map[string]any{"user.plan": "premium"})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestRegexComplexityGuard(t *testing.T) {
	_, err := matcher("key", MatcherRegex, `(a+)+$`).Evaluate(map[string]any{"key": "aaaa"})
	assert.Error(t, err, "nested quantifiers are rejected")

	_, err = matcher("key", MatcherRegex, 42).Evaluate(map[string]any{"key": "aaaa"})
	assert.Error(t, err, "non-string patterns are rejected")
}

func TestRegexCacheReuse(t *testing.T) {
	require.NoError(t, regexCache.Clear())

	pattern := `^cache-test-\d+$`
	for i := 0; i < 3; i++ {
		re, err := compileRegex(pattern)
		require.NoError(t, err)
		assert.True(t, re.MatchString("cache-test-7"))
	}

	assert.Equal(t, 1, regexCache.Size())
}
