package proposition

import (
	"encoding/json"

	"github.com/c360/messagekit/errors"
)

// Item is a single entry within a proposition. It is an immutable value; the
// Content field holds the raw JSON ruleset delivered by the backend.
//
// SurfaceURI and PropositionID key the parent proposition for tracking-context
// lookups. They are resolved through the cache or registry on demand - items
// never hold a live parent reference.
type Item struct {
	ID      string
	Schema  string
	Content string

	SurfaceURI    string
	PropositionID string
}

// itemFromWire decodes one wire item. The content may arrive as a JSON string
// or as an already-decoded object; objects are re-encoded so Content is always
// raw JSON text.
func itemFromWire(raw map[string]any, scope, propositionID string) (Item, error) {
	id, _ := raw[fieldID].(string)
	if id == "" {
		return Item{}, errors.WrapInvalid(errors.ErrMissingField,
			"Item", "itemFromWire", "read id")
	}

	schema, _ := raw[fieldSchema].(string)

	var content string
	if data, ok := raw[fieldData].(map[string]any); ok {
		switch c := data[fieldContent].(type) {
		case string:
			content = c
		case map[string]any:
			encoded, err := json.Marshal(c)
			if err != nil {
				return Item{}, errors.WrapInvalid(err, "Item", "itemFromWire", "encode content")
			}
			content = string(encoded)
		}
	}

	return Item{
		ID:            id,
		Schema:        schema,
		Content:       content,
		SurfaceURI:    scope,
		PropositionID: propositionID,
	}, nil
}

// toWire encodes the item back into the backend payload shape.
func (i Item) toWire() map[string]any {
	return map[string]any{
		fieldID:     i.ID,
		fieldSchema: i.Schema,
		fieldData: map[string]any{
			fieldID:      i.ID,
			fieldContent: i.Content,
		},
	}
}

// embeddedRuleset mirrors the ruleset JSON carried in Item.Content, as far as
// content decoding needs it. Full structural validation happens in the rules
// package; here only the first consequence's detail is extracted.
type embeddedRuleset struct {
	Version int `json:"version"`
	Rules   []struct {
		Consequences []struct {
			ID     string         `json:"id"`
			Type   string         `json:"type"`
			Detail map[string]any `json:"detail"`
		} `json:"consequences"`
	} `json:"rules"`
}

// DecodeContent lazily parses the item content into an Inbound. It returns
// (nil, false) when content is empty or malformed; decode failures are silent
// by contract so a bad item never disturbs payload processing.
func (i Item) DecodeContent() (*Inbound, bool) {
	if i.Content == "" {
		return nil, false
	}

	var ruleset embeddedRuleset
	if err := json.Unmarshal([]byte(i.Content), &ruleset); err != nil {
		return nil, false
	}

	for _, rule := range ruleset.Rules {
		for _, consequence := range rule.Consequences {
			if consequence.Detail == nil {
				continue
			}
			return inboundFromDetail(consequence.ID, consequence.Type, consequence.Detail), true
		}
	}

	return nil, false
}
