package gateway

import (
	"github.com/pkg/errors"

	"github.com/hrygo/opsintent/core"
)

// Schema is a declarative shape check for webhook payloads. It only asserts
// presence and basic types; semantic interpretation belongs to the handler.
type Schema struct {
	Required []string
	Optional []string
	// Lists maps a field holding a list of objects to the keys each
	// element must carry.
	Lists map[string]ListSchema
}

// ListSchema constrains elements of a list-valued field.
type ListSchema struct {
	Required []string
	// NonEmpty rejects an empty list.
	NonEmpty bool
}

// Validate checks payload against the schema. All violations wrap
// core.ErrValidation.
func (s *Schema) Validate(payload map[string]any) error {
	if payload == nil {
		return errors.Wrap(core.ErrValidation, "gateway: payload required")
	}
	for _, key := range s.Required {
		if _, ok := payload[key]; !ok {
			return errors.Wrapf(core.ErrValidation, "gateway: missing required field %q", key)
		}
	}
	for field, ls := range s.Lists {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		items, ok := raw.([]any)
		if !ok {
			return errors.Wrapf(core.ErrValidation, "gateway: field %q must be a list", field)
		}
		if ls.NonEmpty && len(items) == 0 {
			return errors.Wrapf(core.ErrValidation, "gateway: field %q must not be empty", field)
		}
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return errors.Wrapf(core.ErrValidation, "gateway: %s[%d] must be an object", field, i)
			}
			for _, key := range ls.Required {
				if _, ok := obj[key]; !ok {
					return errors.Wrapf(core.ErrValidation, "gateway: %s[%d] missing required field %q", field, i, key)
				}
			}
		}
	}
	return nil
}

// stringField fetches a string value from a payload, empty when absent or
// not a string.
func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// stringMap converts a map[string]any of string values, skipping the rest.
func stringMap(raw any) map[string]string {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
