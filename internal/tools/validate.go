package tools

import (
	"encoding/json"
	"fmt"
)

// ValidateParams checks args against a JSON-schema-lite parameter shape:
// type, enum, minLength, minimum, maximum, nested object required fields,
// and array item types. Unknown fields in args are ignored.
func ValidateParams(schemaRaw json.RawMessage, args map[string]any) error {
	var s map[string]any
	if err := json.Unmarshal(schemaRaw, &s); err != nil {
		// A tool with an unparseable schema accepts anything.
		return nil
	}
	return validateObject(s, args, "")
}

func validateObject(s map[string]any, value map[string]any, path string) error {
	if required, ok := s["required"].([]any); ok {
		for _, r := range required {
			name, _ := r.(string)
			if name == "" {
				continue
			}
			if _, present := value[name]; !present {
				return fmt.Errorf("missing required parameter %q", joinPath(path, name))
			}
		}
	}

	props, _ := s["properties"].(map[string]any)
	for name, propAny := range props {
		prop, ok := propAny.(map[string]any)
		if !ok {
			continue
		}
		v, present := value[name]
		if !present || v == nil {
			continue
		}
		if err := validateValue(prop, v, joinPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(prop map[string]any, v any, path string) error {
	typ, _ := prop["type"].(string)

	switch typ {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", path)
		}
		if minLen, ok := numberField(prop, "minLength"); ok && len(s) < int(minLen) {
			return fmt.Errorf("parameter %q must be at least %d characters", path, int(minLen))
		}

	case "number", "integer":
		n, ok := asNumber(v)
		if !ok {
			return fmt.Errorf("parameter %q must be a number", path)
		}
		if typ == "integer" && n != float64(int64(n)) {
			return fmt.Errorf("parameter %q must be an integer", path)
		}
		if min, ok := numberField(prop, "minimum"); ok && n < min {
			return fmt.Errorf("parameter %q must be >= %v", path, min)
		}
		if max, ok := numberField(prop, "maximum"); ok && n > max {
			return fmt.Errorf("parameter %q must be <= %v", path, max)
		}

	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", path)
		}

	case "array":
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("parameter %q must be an array", path)
		}
		if items, ok := prop["items"].(map[string]any); ok {
			for i, elem := range arr {
				if err := validateValue(items, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}

	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("parameter %q must be an object", path)
		}
		if err := validateObject(prop, obj, path); err != nil {
			return err
		}
	}

	if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
		matched := false
		for _, allowed := range enum {
			if enumEqual(v, allowed) {
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("parameter %q must be one of %v", path, enum)
		}
	}

	return nil
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func numberField(m map[string]any, key string) (float64, bool) {
	return asNumber(m[key])
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func enumEqual(v, allowed any) bool {
	if v == allowed {
		return true
	}
	// JSON decoding may yield float64 for what the schema wrote as an int.
	vn, vok := asNumber(v)
	an, aok := asNumber(allowed)
	return vok && aok && vn == an
}
