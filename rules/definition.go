// Package rules compiles the rulesets embedded in proposition items into
// loadable rules and evaluates their condition trees against local context.
package rules

import (
	"encoding/json"

	"github.com/c360/messagekit/errors"
)

// Consequence type strings carried on the wire.
const (
	ConsequenceTypeFeed  = "feed"
	ConsequenceTypeCJM   = "cjmiam"
	ConsequenceTypeInApp = "inapp"
)

// Definition is the embedded ruleset carried in a proposition item's content.
type Definition struct {
	Version float64    `json:"version"`
	Rules   []RuleSpec `json:"rules"`
}

// RuleSpec pairs a condition tree with the consequences to fire when it matches.
type RuleSpec struct {
	Condition    *Condition    `json:"condition,omitempty"`
	Consequences []Consequence `json:"consequences"`
}

// Consequence is the action payload attached to a matched condition.
type Consequence struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Detail map[string]any `json:"detail,omitempty"`
}

// IsInApp reports whether the consequence describes an in-app message.
func (c Consequence) IsInApp() bool {
	return c.Type == ConsequenceTypeCJM || c.Type == ConsequenceTypeInApp
}

// ParseDefinition decodes a ruleset from its JSON form. A payload without a
// "rules" key is rejected outright so typos like "invalid" never register as
// an empty but well-formed ruleset.
func ParseDefinition(content string) (Definition, error) {
	if content == "" {
		return Definition{}, errors.WrapInvalid(errors.ErrEmptyContent,
			"Definition", "ParseDefinition", "read content")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Definition{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"Definition", "ParseDefinition", "parse ruleset JSON")
	}

	if _, ok := raw["rules"]; !ok {
		return Definition{}, errors.WrapInvalid(errors.ErrMissingRulesKey,
			"Definition", "ParseDefinition", "locate rules key")
	}

	var def Definition
	if err := json.Unmarshal([]byte(content), &def); err != nil {
		return Definition{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"Definition", "ParseDefinition", "decode ruleset")
	}

	return def, nil
}
