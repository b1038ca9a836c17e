package services

import (
	"bytes"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const maxSchemaWarnings = 5

const questionPayloadSchema = `{
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["question", "answer", "type"],
        "properties": {
          "question": {"type": "string", "minLength": 1},
          "options": {"type": "array", "items": {"type": "string"}},
          "answer": {"type": ["string", "number", "boolean"]},
          "explanation": {"type": "string"},
          "simple_explanation": {"type": "string"},
          "type": {"type": "string", "enum": ["mcq", "tf", "fib", "MCQ", "TF", "FIB"]}
        }
      }
    }
  }
}`

var questionSchema = mustCompileSchema(questionPayloadSchema)

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded JSON schema: %v", err))
	}
	return schema
}

// validateQuestionPayload reports how the decoded completion deviates from
// the requested shape. Deviations are repaired later, so they are warnings.
func validateQuestionPayload(body []byte) []string {
	doc := body
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		doc = append(append([]byte(`{"questions":`), trimmed...), '}')
	}

	result, err := questionSchema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return []string{fmt.Sprintf("response could not be checked against the question schema: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	var warnings []string
	for i, e := range result.Errors() {
		if i == maxSchemaWarnings {
			warnings = append(warnings, fmt.Sprintf("%d more schema deviation(s)", len(result.Errors())-maxSchemaWarnings))
			break
		}
		warnings = append(warnings, "schema: "+e.String())
	}
	return warnings
}
