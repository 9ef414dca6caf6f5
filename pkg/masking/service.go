package masking

import (
	"log/slog"

	"github.com/homelab-ops/warden/pkg/config"
)

// Service applies data masking to tool results, audit arguments, and
// notification text. Created once at application startup. Thread-safe and
// stateless aside from compiled patterns.
//
// A nil *Service is valid and masks nothing.
type Service struct {
	keyMasker *SecretKeyMasker
	patterns  []*CompiledPattern
}

// NewService creates a masking service with compiled patterns and the
// secret-key masker. All patterns are compiled eagerly at creation time;
// invalid patterns are logged and skipped.
func NewService(cfg *config.MaskingConfig) *Service {
	s := &Service{
		keyMasker: NewSecretKeyMasker(cfg.SecretKeys),
		patterns:  compilePatterns(cfg),
	}

	slog.Info("Masking service initialized",
		"secret_keys", len(cfg.SecretKeys),
		"compiled_patterns", len(s.patterns))

	return s
}

// Mask applies the secret-key masker then the regex sweep to content.
// Structural masking runs first so regex replacements never see raw values
// that the key masker would have caught.
func (s *Service) Mask(content string) string {
	if s == nil || content == "" {
		return content
	}

	masked := content
	if s.keyMasker.AppliesTo(masked) {
		masked = s.keyMasker.Mask(masked)
	}
	for _, pattern := range s.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}

// MaskArgs returns a copy of tool arguments with secret-keyed values elided
// and regex patterns applied to string values. The input map is not modified.
func (s *Service) MaskArgs(args map[string]any) map[string]any {
	if s == nil || len(args) == 0 {
		return args
	}

	masked := s.keyMasker.MaskMap(args)
	for k, v := range masked {
		str, ok := v.(string)
		if !ok {
			continue
		}
		for _, pattern := range s.patterns {
			str = pattern.Regex.ReplaceAllString(str, pattern.Replacement)
		}
		masked[k] = str
	}
	return masked
}
