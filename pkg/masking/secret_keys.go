package masking

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedValue is the replacement string for values masked by key.
const MaskedValue = "[MASKED_SECRET]"

// SecretKeyMasker masks values whose keys match a configured list of secret
// key names (password, token, api_key, ...) in JSON and YAML structures.
// Matching is case-insensitive and by containment, so db_password and
// POSTGRES_PASSWORD both match "password".
type SecretKeyMasker struct {
	keys []string
}

// NewSecretKeyMasker creates a masker for the given key names.
func NewSecretKeyMasker(keys []string) *SecretKeyMasker {
	normalized := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			normalized = append(normalized, k)
		}
	}
	return &SecretKeyMasker{keys: normalized}
}

// Name returns the unique identifier for this masker.
func (m *SecretKeyMasker) Name() string { return "secret_keys" }

// AppliesTo performs a lightweight check on whether this masker should
// process the data.
func (m *SecretKeyMasker) AppliesTo(data string) bool {
	lower := strings.ToLower(data)
	for _, k := range m.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Mask applies key-based masking. Detects JSON vs YAML and applies the
// appropriate parser. Returns original data on parse errors (defensive).
func (m *SecretKeyMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)

	// Try JSON first when input looks like JSON (starts with { or [).
	// This prevents the YAML parser from consuming JSON and re-serializing
	// it as YAML.
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := m.maskJSON(data); masked != data {
			return masked
		}
	}

	if masked := m.maskYAML(data); masked != data {
		return masked
	}

	return data
}

// MaskMap returns a copy of args with secret-keyed values replaced. Nested
// maps and slices are walked; non-secret values are kept as-is.
func (m *SecretKeyMasker) MaskMap(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	masked, _ := m.maskValue(args)
	return masked.(map[string]any)
}

func (m *SecretKeyMasker) maskJSON(data string) string {
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return data
	}

	masked, changed := m.maskValue(doc)
	if !changed {
		return data
	}

	result, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return data
	}

	output := string(result)
	if strings.HasSuffix(data, "\n") {
		output += "\n"
	}
	return output
}

func (m *SecretKeyMasker) maskYAML(data string) string {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var documents []any
	anyMasked := false

	for {
		var doc any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return data
		}
		if doc == nil {
			continue
		}

		masked, changed := m.maskValue(doc)
		if changed {
			anyMasked = true
		}
		documents = append(documents, masked)
	}

	if !anyMasked || len(documents) == 0 {
		return data
	}

	// Re-serialize preserving multi-document boundaries
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return data
		}
	}
	if err := encoder.Close(); err != nil {
		return data
	}

	result := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}

// maskValue walks a decoded document and replaces secret-keyed values.
// Returns the (possibly new) value and whether anything was masked.
func (m *SecretKeyMasker) maskValue(v any) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		changed := false
		for k, item := range val {
			if m.isSecretKey(k) {
				out[k] = MaskedValue
				changed = true
				continue
			}
			maskedItem, itemChanged := m.maskValue(item)
			out[k] = maskedItem
			changed = changed || itemChanged
		}
		return out, changed
	case []any:
		out := make([]any, len(val))
		changed := false
		for i, item := range val {
			maskedItem, itemChanged := m.maskValue(item)
			out[i] = maskedItem
			changed = changed || itemChanged
		}
		return out, changed
	default:
		return v, false
	}
}

func (m *SecretKeyMasker) isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range m.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
