package tools

import (
	"fmt"
)

// ValidateArgs checks args against the tool's parameter schema. Unknown
// keys, missing required parameters, and type mismatches all fail; the
// agent sees the message and may retry with corrected arguments.
func ValidateArgs(tool *Tool, args map[string]any) error {
	params := make(map[string]Param, len(tool.Params))
	for _, p := range tool.Params {
		params[p.Name] = p
	}

	for name := range args {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("%w: unknown argument %q for tool %s", ErrBadArgs, name, tool.Name)
		}
	}

	for _, p := range tool.Params {
		val, present := args[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("%w: missing required argument %q for tool %s", ErrBadArgs, p.Name, tool.Name)
			}
			continue
		}
		if val == nil {
			if p.Required {
				return fmt.Errorf("%w: argument %q for tool %s is null", ErrBadArgs, p.Name, tool.Name)
			}
			continue
		}
		if !matchesType(val, p.Type) {
			return fmt.Errorf("%w: argument %q for tool %s: expected %s, got %T",
				ErrBadArgs, p.Name, tool.Name, p.Type, val)
		}
	}

	return nil
}

// matchesType accepts the concrete Go types JSON decoding and key-value
// coercion produce for each schema type.
func matchesType(val any, t ParamType) bool {
	switch t {
	case TypeString:
		_, ok := val.(string)
		return ok
	case TypeNumber:
		switch val.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := val.(bool)
		return ok
	case TypeArray:
		_, ok := val.([]any)
		return ok
	case TypeObject:
		_, ok := val.(map[string]any)
		return ok
	default:
		return false
	}
}
