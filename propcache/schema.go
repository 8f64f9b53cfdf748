package propcache

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/messagekit/errors"
)

// snapshotSchema guards rehydration: a snapshot written by an older or
// corrupted build that no longer matches the expected shape is treated as a
// cache miss instead of being half-decoded into garbage rules.
const snapshotSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["surface", "propositions"],
	"properties": {
		"surface": {"type": "string", "minLength": 1},
		"cachedAt": {"type": "integer"},
		"propositions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "scope"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"scope": {"type": "string", "minLength": 1},
					"items": {"type": "array"}
				}
			}
		}
	}
}`

var compiledSnapshotSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshotSchema))
	if err != nil {
		panic(fmt.Sprintf("failed to compile snapshot schema: %v", err))
	}
	compiledSnapshotSchema = schema
}

// validateSnapshot checks raw snapshot bytes against the schema.
func validateSnapshot(data []byte) error {
	result, err := compiledSnapshotSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(errors.ErrSnapshotInvalid,
			"PropositionCache", "validateSnapshot", "parse snapshot")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrSnapshotInvalid, strings.Join(details, "; ")),
			"PropositionCache", "validateSnapshot", "check snapshot shape")
	}
	return nil
}
