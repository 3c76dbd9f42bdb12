package userdata

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// syncSchema constrains sync POST bodies: only the five known slots, each
// of the right shape. Unknown top-level fields are rejected outright.
const syncSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"testHistory": {
			"type": "array",
			"items": {"type": "object"}
		},
		"performance": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"correct": {"type": "integer", "minimum": 0},
					"total": {"type": "integer", "minimum": 0}
				}
			}
		},
		"questionStatus": {
			"type": "object",
			"additionalProperties": {"type": "object"}
		},
		"notes": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"usedQuestions": {
			"type": "array",
			"items": {"type": "integer"}
		}
	}
}`

var compiledSyncSchema = gojsonschema.NewStringLoader(syncSchema)

// ValidatePayload checks a raw sync body against the slot schema.
func ValidatePayload(body []byte) error {
	result, err := gojsonschema.Validate(compiledSyncSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid sync payload: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid sync payload: %s", strings.Join(msgs, "; "))
}
