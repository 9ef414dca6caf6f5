package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AlertStatus is the firing state reported by the monitoring stack.
type AlertStatus string

const (
	// AlertFiring indicates the alert condition is active.
	AlertFiring AlertStatus = "firing"
	// AlertResolved indicates the monitoring stack observed the condition clear.
	AlertResolved AlertStatus = "resolved"
)

// IsValid checks if the alert status is valid
func (s AlertStatus) IsValid() bool {
	return s == AlertFiring || s == AlertResolved
}

// Alert is a single normalised event from the monitoring stack.
// Fingerprint is the idempotency key: identical fingerprints denote the
// same logical issue.
type Alert struct {
	Fingerprint  string            `json:"fingerprint"`
	Status       AlertStatus       `json:"status"`
	Severity     string            `json:"severity"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       *time.Time        `json:"endsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// AnnotationPreviousIncident links a reopened fingerprint to the incident
// that terminated within the dedup window.
const AnnotationPreviousIncident = "warden.io/previous_incident"

// Name returns the alertname label, falling back to the fingerprint.
func (a Alert) Name() string {
	if name, ok := a.Labels["alertname"]; ok && name != "" {
		return name
	}
	return a.Fingerprint
}

// Description renders the alert as one deterministic line of text. The same
// rendering is used when embedding incidents at write time and when querying
// for similar incidents at read time, so the two sides always agree.
func (a Alert) Description() string {
	keys := make([]string, 0, len(a.Labels))
	for k := range a.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "alert %s fingerprint=%s severity=%s", a.Name(), a.Fingerprint, a.Severity)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, a.Labels[k])
	}
	if summary, ok := a.Annotations["summary"]; ok && summary != "" {
		b.WriteString(" summary=" + summary)
	}
	if desc, ok := a.Annotations["description"]; ok && desc != "" {
		b.WriteString(" description=" + desc)
	}
	return b.String()
}
