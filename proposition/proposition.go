// Package proposition models server-delivered personalization decisions.
// A Proposition targets a surface and owns a list of PropositionItems whose
// content embeds a JSON ruleset consumed by the rules package.
package proposition

import (
	"github.com/c360/messagekit/errors"
)

// Wire payload field names.
const (
	fieldID           = "id"
	fieldScope        = "scope"
	fieldScopeDetails = "scopeDetails"
	fieldItems        = "items"
	fieldSchema       = "schema"
	fieldData         = "data"
	fieldContent      = "content"
)

// Proposition is a personalization decision for a surface. The proposition
// owns its items exclusively; items refer back to their parent by key
// (scope + proposition id), never by pointer.
type Proposition struct {
	ID           string
	Scope        string
	ScopeDetails map[string]any
	Items        []Item
}

// FromWirePayload decodes a proposition from the backend payload shape.
// Required fields are id and scope; scopeDetails defaults to an empty map and
// items to an empty list. Each item is parsed independently - a malformed
// item is skipped, not fatal to the proposition.
func FromWirePayload(payload map[string]any) (Proposition, error) {
	if payload == nil {
		return Proposition{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"Proposition", "FromWirePayload", "decode nil payload")
	}

	id, _ := payload[fieldID].(string)
	if id == "" {
		return Proposition{}, errors.WrapInvalid(errors.ErrMissingField,
			"Proposition", "FromWirePayload", "read id")
	}

	scope, _ := payload[fieldScope].(string)
	if scope == "" {
		return Proposition{}, errors.WrapInvalid(errors.ErrMissingField,
			"Proposition", "FromWirePayload", "read scope")
	}

	scopeDetails, _ := payload[fieldScopeDetails].(map[string]any)
	if scopeDetails == nil {
		scopeDetails = map[string]any{}
	}

	p := Proposition{
		ID:           id,
		Scope:        scope,
		ScopeDetails: scopeDetails,
		Items:        []Item{},
	}

	rawItems, _ := payload[fieldItems].([]any)
	for _, raw := range rawItems {
		itemMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item, err := itemFromWire(itemMap, scope, id)
		if err != nil {
			// Malformed items are dropped; siblings still decode.
			continue
		}
		p.Items = append(p.Items, item)
	}

	return p, nil
}

// ToWirePayload encodes the proposition back into the backend payload shape.
// FromWirePayload(p.ToWirePayload()) reproduces p for any valid proposition.
func (p Proposition) ToWirePayload() map[string]any {
	items := make([]any, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, item.toWire())
	}

	scopeDetails := p.ScopeDetails
	if scopeDetails == nil {
		scopeDetails = map[string]any{}
	}

	return map[string]any{
		fieldID:           p.ID,
		fieldScope:        p.Scope,
		fieldScopeDetails: scopeDetails,
		fieldItems:        items,
	}
}

// Equal reports whether two propositions carry the same identity and items.
// ScopeDetails participate only by length, matching the refresh semantics
// where a proposition is replaced wholesale.
func (p Proposition) Equal(other Proposition) bool {
	if p.ID != other.ID || p.Scope != other.Scope {
		return false
	}
	if len(p.Items) != len(other.Items) {
		return false
	}
	for i := range p.Items {
		if p.Items[i] != other.Items[i] {
			return false
		}
	}
	return true
}
