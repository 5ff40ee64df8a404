package service

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/metrica/pkg/schema"
)

// documentSchemaJSON is the JSON Schema for imported definition documents.
// Embedded as a constant to avoid filesystem dependencies.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://metrica.dev/schemas/document.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "interval_seconds": {
      "type": "integer"
    },
    "schedule": {
      "type": "string"
    },
    "embeddable": {
      "type": "boolean"
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["order", "type", "expression"],
      "properties": {
        "order": {
          "type": "integer",
          "minimum": 1
        },
        "type": {
          "type": "string",
          "enum": ["query", "script", "condition", "variable", "timeseries"]
        },
        "expression": {
          "type": "string",
          "minLength": 1
        },
        "result_variable": {
          "type": "string"
        },
        "max_loop": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    }
  }
}`

// documentImporter validates raw document JSON against the document schema
// before decoding. The compiled schema is shared; it is safe for concurrent
// use.
type documentImporter struct {
	schema *jsonschema.Schema
}

func newDocumentImporter() *documentImporter {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal document schema: %v", err))
	}
	if err := c.AddResource("https://metrica.dev/schemas/document.json", doc); err != nil {
		panic(fmt.Sprintf("add document schema resource: %v", err))
	}
	compiled, err := c.Compile("https://metrica.dev/schemas/document.json")
	if err != nil {
		panic(fmt.Sprintf("compile document schema: %v", err))
	}
	return &documentImporter{schema: compiled}
}

// parse validates and decodes a document. Schema violations produce a
// VALIDATION_ERROR listing every violation, mirroring the step validator's
// accumulate-everything behavior.
func (im *documentImporter) parse(data []byte) (*schema.Document, error) {
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "document is not valid JSON").WithCause(err)
	}
	if err := im.schema.Validate(value); err != nil {
		return nil, toValidationError(err)
	}

	var doc schema.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot decode document").WithCause(err)
	}
	return &doc, nil
}

// toValidationError converts a jsonschema.ValidationError tree into a
// MetricaError carrying each leaf violation with its instance location.
func toValidationError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("document validation failed with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
