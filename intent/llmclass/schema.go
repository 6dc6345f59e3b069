package llmclass

import "encoding/json"

// JSONSchema implements json.Marshaler for OpenAI's JSON Schema format.
// The alias type prevents infinite recursion during marshaling.
type JSONSchema struct {
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Items                *JSONSchema            `json:"items,omitempty"`
	Type                 string                 `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

// MarshalJSON implements json.Marshaler for JSONSchema.
func (s *JSONSchema) MarshalJSON() ([]byte, error) {
	type alias JSONSchema
	return json.Marshal((*alias)(s))
}

// classificationSchema builds the strict output schema with the closed
// category vocabulary baked in as an enum.
func classificationSchema(categories []string) *JSONSchema {
	return &JSONSchema{
		Type: "object",
		Properties: map[string]*JSONSchema{
			"category": {
				Type:        "string",
				Enum:        categories,
				Description: "Coarse IT intent category.",
			},
			"sub_intent": {
				Type:        "string",
				Description: "Finer intent label from the allowed pair list.",
			},
			"confidence": {
				Type:        "number",
				Description: "Classification confidence in [0,1].",
			},
			"missing_fields_hint": {
				Type:        "array",
				Items:       &JSONSchema{Type: "string"},
				Description: "Field keys the request appears to be missing.",
			},
		},
		Required:             []string{"category", "sub_intent", "confidence"},
		AdditionalProperties: false,
	}
}
