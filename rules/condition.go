package rules

import (
	"fmt"
	"strings"
)

// Condition node types.
const (
	ConditionTypeGroup   = "group"
	ConditionTypeMatcher = "matcher"
)

// Group logic operators.
const (
	LogicAnd = "and"
	LogicOr  = "or"
	LogicNot = "not"
)

// Matcher operators.
const (
	MatcherEquals         = "eq"
	MatcherNotEquals      = "ne"
	MatcherExists         = "ex"
	MatcherNotExists      = "nx"
	MatcherContains       = "co"
	MatcherNotContains    = "nc"
	MatcherStartsWith     = "sw"
	MatcherEndsWith       = "ew"
	MatcherGreaterThan    = "gt"
	MatcherGreaterOrEqual = "ge"
	MatcherLessThan       = "lt"
	MatcherLessOrEqual    = "le"
	MatcherRegex          = "regex"
)

// Condition is one node of a rule's condition tree. Group nodes combine
// children with a logic operator; matcher nodes compare one context key
// against a list of candidate values.
type Condition struct {
	Type       string              `json:"type"`
	Definition ConditionDefinition `json:"definition"`
}

// ConditionDefinition holds the type-specific fields of a condition node.
// Group nodes use Logic and Conditions; matcher nodes use Key, Matcher and
// Values.
type ConditionDefinition struct {
	Logic      string       `json:"logic,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty"`

	Key     string `json:"key,omitempty"`
	Matcher string `json:"matcher,omitempty"`
	Values  []any  `json:"values,omitempty"`
}

// EvaluationError reports a structural problem found while walking a
// condition tree.
type EvaluationError struct {
	Key     string
	Matcher string
	Message string
	Err     error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error for key '%s' with matcher '%s': %s: %v",
			e.Key, e.Matcher, e.Message, e.Err)
	}
	return fmt.Sprintf("evaluation error for key '%s' with matcher '%s': %s",
		e.Key, e.Matcher, e.Message)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Evaluate walks the condition tree against a flat context map. A nil
// condition matches everything, so rules without conditions fire on any
// context event.
func (c *Condition) Evaluate(context map[string]any) (bool, error) {
	if c == nil {
		return true, nil
	}

	switch c.Type {
	case ConditionTypeGroup:
		return c.evaluateGroup(context)
	case ConditionTypeMatcher:
		return c.evaluateMatcher(context)
	default:
		return false, &EvaluationError{
			Message: fmt.Sprintf("unsupported condition type: %s", c.Type),
		}
	}
}

func (c *Condition) evaluateGroup(context map[string]any) (bool, error) {
	children := c.Definition.Conditions
	if len(children) == 0 {
		return true, nil // empty group passes
	}

	results := make([]bool, len(children))
	for i, child := range children {
		result, err := child.Evaluate(context)
		if err != nil {
			return false, err
		}
		results[i] = result
	}

	switch c.Definition.Logic {
	case LogicOr, "": // default to OR when not specified
		for _, result := range results {
			if result {
				return true, nil
			}
		}
		return false, nil

	case LogicAnd:
		for _, result := range results {
			if !result {
				return false, nil
			}
		}
		return true, nil

	case LogicNot:
		for _, result := range results {
			if result {
				return false, nil
			}
		}
		return true, nil

	default:
		return false, &EvaluationError{
			Message: fmt.Sprintf("unsupported logic operator: %s", c.Definition.Logic),
		}
	}
}

func (c *Condition) evaluateMatcher(context map[string]any) (bool, error) {
	def := c.Definition
	value, exists := context[def.Key]

	switch def.Matcher {
	case MatcherExists:
		return exists, nil
	case MatcherNotExists:
		return !exists, nil
	}

	// Remaining matchers compare against candidate values; a missing key
	// fails the condition rather than erroring out.
	if !exists {
		return false, nil
	}

	matchFunc, ok := matcherFuncs[def.Matcher]
	if !ok {
		return false, &EvaluationError{
			Key:     def.Key,
			Matcher: def.Matcher,
			Message: "unsupported matcher",
		}
	}

	switch def.Matcher {
	case MatcherNotEquals, MatcherNotContains:
		// Negative matchers hold only when every candidate value misses.
		for _, candidate := range def.Values {
			hit, err := matchFunc(value, candidate)
			if err != nil {
				return false, &EvaluationError{
					Key: def.Key, Matcher: def.Matcher,
					Message: "matcher execution failed", Err: err,
				}
			}
			if !hit {
				return false, nil
			}
		}
		return true, nil

	default:
		for _, candidate := range def.Values {
			hit, err := matchFunc(value, candidate)
			if err != nil {
				return false, &EvaluationError{
					Key: def.Key, Matcher: def.Matcher,
					Message: "matcher execution failed", Err: err,
				}
			}
			if hit {
				return true, nil
			}
		}
		return false, nil
	}
}

// matcherFunc compares a context value against one candidate value.
type matcherFunc func(contextValue, candidate any) (bool, error)

var matcherFuncs = map[string]matcherFunc{
	MatcherEquals:         matchEquals,
	MatcherNotEquals:      matchNotEquals,
	MatcherContains:       matchContains,
	MatcherNotContains:    matchNotContains,
	MatcherStartsWith:     matchStartsWith,
	MatcherEndsWith:       matchEndsWith,
	MatcherGreaterThan:    matchGreaterThan,
	MatcherGreaterOrEqual: matchGreaterOrEqual,
	MatcherLessThan:       matchLessThan,
	MatcherLessOrEqual:    matchLessOrEqual,
	MatcherRegex:          matchRegex,
}

func matchEquals(contextValue, candidate any) (bool, error) {
	return compareValues(contextValue, candidate) == 0, nil
}

func matchNotEquals(contextValue, candidate any) (bool, error) {
	return compareValues(contextValue, candidate) != 0, nil
}

func matchContains(contextValue, candidate any) (bool, error) {
	return strings.Contains(asString(contextValue), asString(candidate)), nil
}

func matchNotContains(contextValue, candidate any) (bool, error) {
	return !strings.Contains(asString(contextValue), asString(candidate)), nil
}

func matchStartsWith(contextValue, candidate any) (bool, error) {
	return strings.HasPrefix(asString(contextValue), asString(candidate)), nil
}

func matchEndsWith(contextValue, candidate any) (bool, error) {
	return strings.HasSuffix(asString(contextValue), asString(candidate)), nil
}

func matchGreaterThan(contextValue, candidate any) (bool, error) {
	return compareValues(contextValue, candidate) > 0, nil
}

func matchGreaterOrEqual(contextValue, candidate any) (bool, error) {
	return compareValues(contextValue, candidate) >= 0, nil
}

func matchLessThan(contextValue, candidate any) (bool, error) {
	return compareValues(contextValue, candidate) < 0, nil
}

func matchLessOrEqual(contextValue, candidate any) (bool, error) {
	return compareValues(contextValue, candidate) <= 0, nil
}

func matchRegex(contextValue, candidate any) (bool, error) {
	pattern, ok := candidate.(string)
	if !ok {
		return false, fmt.Errorf("regex pattern must be a string")
	}

	re, err := compileRegex(pattern)
	if err != nil {
		return false, err
	}

	return re.MatchString(asString(contextValue)), nil
}

// compareValues orders two values numerically when both convert to float64,
// falling back to string comparison otherwise.
func compareValues(a, b any) int {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)

	if aIsNum && bIsNum {
		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		}
		return 0
	}

	aStr := asString(a)
	bStr := asString(b)
	switch {
	case aStr < bStr:
		return -1
	case aStr > bStr:
		return 1
	}
	return 0
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
