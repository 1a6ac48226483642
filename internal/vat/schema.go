package vat

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// fieldsSchema requires all four certificate fields. Only tradeName may be
// empty since many registrations carry no trade name.
// Extra keys are tolerated because models like to add commentary fields.
const fieldsSchema = `{
  "type": "object",
  "properties": {
    "taxPayerName":    {"type": "string", "minLength": 1},
    "tradeName":       {"type": "string"},
    "tinNumber":       {"type": "string", "minLength": 1},
    "vatNumber":       {"type": "string", "minLength": 1},
    "fileDisplayName": {"type": "string"}
  },
  "required": ["taxPayerName", "tradeName", "tinNumber", "vatNumber"]
}`

var compiledFieldsSchema = jsonschema.MustCompileString("vat_fields.json", fieldsSchema)

// validateFields checks a decoded JSON value against the field schema.
func validateFields(v any) error {
	if err := compiledFieldsSchema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
