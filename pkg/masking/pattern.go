package masking

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/homelab-ops/warden/pkg/config"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

type builtinPattern struct {
	Pattern     string
	Replacement string
	Description string
}

// builtinPatterns is the regex library patterns can be picked from via
// pattern groups.
var builtinPatterns = map[string]builtinPattern{
	"api_key": {
		Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
		Replacement: `"api_key": "__MASKED_API_KEY__"`,
		Description: "API keys",
	},
	"password": {
		Pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
		Replacement: `"password": "__MASKED_PASSWORD__"`,
		Description: "Passwords",
	},
	"token": {
		Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		Replacement: `"token": "__MASKED_TOKEN__"`,
		Description: "Access tokens",
	},
	"certificate": {
		Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
		Replacement: `__MASKED_CERTIFICATE__`,
		Description: "SSL/TLS certificates and PEM keys",
	},
	"email": {
		Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
		Replacement: `__MASKED_EMAIL__`,
		Description: "Email addresses",
	},
	"ssh_key": {
		Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
		Replacement: `__MASKED_SSH_KEY__`,
		Description: "SSH public keys",
	},
	"private_key": {
		Pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		Replacement: `"private_key": "__MASKED_PRIVATE_KEY__"`,
		Description: "Private keys",
	},
	"secret_key": {
		Pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		Replacement: `"secret_key": "__MASKED_SECRET_KEY__"`,
		Description: "Secret keys",
	},
	"connection_url": {
		Pattern:     `(?i)\b([a-z][a-z0-9+\-.]*://[^:/\s]+):([^@/\s]+)@`,
		Replacement: `$1:__MASKED_PASSWORD__@`,
		Description: "Credentials embedded in connection URLs",
	},
	"slack_token": {
		Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
		Replacement: `__MASKED_SLACK_TOKEN__`,
		Description: "Slack tokens",
	},
}

// patternGroups are predefined bundles of pattern names. Configuration
// references groups instead of enumerating patterns one by one. Order
// matters: specific patterns run before general sweeps so connection URLs
// are not half-eaten by the email regex.
var patternGroups = map[string][]string{
	"basic":    {"api_key", "password"},
	"secrets":  {"api_key", "password", "token", "private_key", "secret_key"},
	"security": {"connection_url", "certificate", "ssh_key", "api_key", "password", "token", "email"},
	"all": {
		"connection_url", "certificate", "ssh_key", "slack_token",
		"api_key", "password", "token", "private_key", "secret_key", "email",
	},
}

// compilePatterns resolves pattern groups and custom patterns from config
// into a deduplicated compiled set. Invalid patterns are logged and skipped.
func compilePatterns(cfg *config.MaskingConfig) []*CompiledPattern {
	seen := make(map[string]bool)
	var compiled []*CompiledPattern

	for _, groupName := range cfg.PatternGroups {
		group, ok := patternGroups[groupName]
		if !ok {
			slog.Warn("Unknown masking pattern group, skipping", "group", groupName)
			continue
		}
		for _, name := range group {
			if seen[name] {
				continue
			}
			seen[name] = true

			p, ok := builtinPatterns[name]
			if !ok {
				continue
			}
			regex, err := regexp.Compile(p.Pattern)
			if err != nil {
				slog.Error("Failed to compile built-in masking pattern, skipping",
					"pattern", name, "error", err)
				continue
			}
			compiled = append(compiled, &CompiledPattern{
				Name:        name,
				Regex:       regex,
				Replacement: p.Replacement,
				Description: p.Description,
			})
		}
	}

	// Custom patterns are keyed as "custom:{index}" to avoid collisions.
	for i, p := range cfg.CustomPatterns {
		name := fmt.Sprintf("custom:%d", i)
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile custom masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        name,
			Regex:       regex,
			Replacement: p.Replacement,
			Description: p.Description,
		})
	}

	return compiled
}
