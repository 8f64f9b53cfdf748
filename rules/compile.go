package rules

import (
	"strings"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/proposition"
	"github.com/c360/messagekit/surface"
)

// CompiledRule is a loadable rule produced from one consequence of an item's
// embedded ruleset. It carries enough provenance to retract rules by surface
// and to attribute tracking events back to the owning proposition.
type CompiledRule struct {
	ConsequenceID   string
	ConsequenceType string
	Condition       *Condition
	Detail          map[string]any
	SurfaceURI      string
	PropositionID   string
	ItemID          string
}

// IsInApp reports whether the rule's consequence renders an in-app message.
func (r CompiledRule) IsInApp() bool {
	return r.ConsequenceType == ConsequenceTypeCJM || r.ConsequenceType == ConsequenceTypeInApp
}

// Compile turns a proposition item into zero or more loadable rules.
//
// Whole-item failures (empty content, missing rules key, scope mismatch)
// return an error and produce nothing. Per-consequence failures drop only
// that consequence; sibling consequences in the same item still compile.
func Compile(item proposition.Item, appSurface surface.Surface) ([]CompiledRule, error) {
	if appSurface.Valid() && !surfaceMatches(item.SurfaceURI, appSurface) {
		return nil, errors.WrapInvalid(errors.ErrScopeMismatch,
			"CompiledRule", "Compile", "match item surface")
	}

	def, err := ParseDefinition(item.Content)
	if err != nil {
		return nil, err
	}

	var compiled []CompiledRule
	for _, spec := range def.Rules {
		for _, consequence := range spec.Consequences {
			if err := validateConsequence(consequence); err != nil {
				continue
			}
			compiled = append(compiled, CompiledRule{
				ConsequenceID:   consequence.ID,
				ConsequenceType: consequence.Type,
				Condition:       spec.Condition,
				Detail:          consequence.Detail,
				SurfaceURI:      item.SurfaceURI,
				PropositionID:   item.PropositionID,
				ItemID:          item.ID,
			})
		}
	}

	return compiled, nil
}

func validateConsequence(c Consequence) error {
	if c.ID == "" || c.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConsequence,
			"CompiledRule", "validateConsequence", "read id and type")
	}
	if len(c.Detail) == 0 {
		return errors.WrapInvalid(errors.ErrMissingDetail,
			"CompiledRule", "validateConsequence", "read detail")
	}
	if c.IsInApp() {
		html, _ := c.Detail["html"].(string)
		if html == "" {
			return errors.WrapInvalid(errors.ErrEmptyRenderPayload,
				"CompiledRule", "validateConsequence", "read html payload")
		}
	}
	return nil
}

// surfaceMatches accepts items addressed to the app surface itself or to any
// path beneath it. Items without a surface default to the app surface.
func surfaceMatches(itemURI string, appSurface surface.Surface) bool {
	if itemURI == "" {
		return true
	}
	if itemURI == appSurface.URI() {
		return true
	}
	return strings.HasPrefix(itemURI, appSurface.URI()+"/")
}
