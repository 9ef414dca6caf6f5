package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/homelab-ops/warden/pkg/models"
)

// AlertmanagerPayload is the Alertmanager v4 webhook body.
type AlertmanagerPayload struct {
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
	TruncatedAlerts   int                 `json:"truncatedAlerts"`
	Status            string              `json:"status"`
	Receiver          string              `json:"receiver"`
	GroupLabels       map[string]string   `json:"groupLabels"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
	Alerts            []AlertmanagerAlert `json:"alerts"`
}

// AlertmanagerAlert is one alert inside the webhook group.
type AlertmanagerAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// Normalize flattens the group into pipeline alerts. Group-common labels
// and annotations fold under each alert's own; the alert wins on conflict.
// Severity comes from the severity label, defaulting to warning.
func (p *AlertmanagerPayload) Normalize() ([]models.Alert, error) {
	if len(p.Alerts) == 0 {
		return nil, errors.New("payload contains no alerts")
	}

	out := make([]models.Alert, 0, len(p.Alerts))
	for i, a := range p.Alerts {
		if a.Fingerprint == "" {
			return nil, fmt.Errorf("alerts[%d]: fingerprint is required", i)
		}

		status := models.AlertStatus(a.Status)
		if a.Status == "" {
			status = models.AlertStatus(p.Status)
		}
		if !status.IsValid() {
			return nil, fmt.Errorf("alerts[%d]: invalid status %q", i, a.Status)
		}

		labels := mergeLabels(p.CommonLabels, a.Labels)
		annotations := mergeLabels(p.CommonAnnotations, a.Annotations)

		severity := labels["severity"]
		if severity == "" {
			severity = "warning"
		}

		startsAt := a.StartsAt
		if startsAt.IsZero() {
			startsAt = time.Now().UTC()
		}

		alert := models.Alert{
			Fingerprint:  a.Fingerprint,
			Status:       status,
			Severity:     severity,
			Labels:       labels,
			Annotations:  annotations,
			StartsAt:     startsAt,
			GeneratorURL: a.GeneratorURL,
		}
		// Alertmanager sends the zero time while the alert is still firing.
		if !a.EndsAt.IsZero() {
			endsAt := a.EndsAt
			alert.EndsAt = &endsAt
		}
		out = append(out, alert)
	}
	return out, nil
}

func mergeLabels(common, own map[string]string) map[string]string {
	merged := make(map[string]string, len(common)+len(own))
	for k, v := range common {
		merged[k] = v
	}
	for k, v := range own {
		merged[k] = v
	}
	return merged
}
