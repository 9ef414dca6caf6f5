package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		contains []string
	}{
		{
			name: "missing field",
			err:  NewValidationError("llm", "model", ErrMissingRequiredField),
			contains: []string{
				"llm",
				"model",
				"missing required field",
			},
		},
		{
			name: "invalid value",
			err:  NewValidationError("memory", "top_k", errors.New("must be at least 1")),
			contains: []string{
				"memory",
				"top_k",
				"must be at least 1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	validationErr := NewValidationError("approval", "timeout_seconds", ErrInvalidValue)

	assert.Equal(t, ErrInvalidValue, validationErr.Unwrap())
	assert.True(t, errors.Is(validationErr, ErrInvalidValue))
}

func TestLoadErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *LoadError
		contains []string
	}{
		{
			name: "file load error",
			err:  NewLoadError("warden.yaml", errors.New("file not found")),
			contains: []string{
				"failed to load",
				"warden.yaml",
				"file not found",
			},
		},
		{
			name: "parse error",
			err:  NewLoadError("warden.yaml", errors.New("yaml: unmarshal error")),
			contains: []string{
				"failed to load",
				"warden.yaml",
				"unmarshal error",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestLoadErrorUnwrap(t *testing.T) {
	loadErr := NewLoadError("warden.yaml", ErrInvalidYAML)

	assert.Equal(t, ErrInvalidYAML, loadErr.Unwrap())
	assert.True(t, errors.Is(loadErr, ErrInvalidYAML))
}
