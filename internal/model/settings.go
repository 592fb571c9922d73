package model

import (
	"time"
)

// SystemSettingsID is the singleton settings row id.
const SystemSettingsID = "default"

// ProvisioningSettings are the dynamic provisioning defaults.
type ProvisioningSettings struct {
	Region       string `json:"region,omitempty"`
	InstanceType string `json:"instance_type,omitempty"`
	ImageRef     string `json:"image_ref,omitempty"`
}

// MonitoringSettings control the metrics/telemetry poll loops.
type MonitoringSettings struct {
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`
}

// IdleDetectionSettings control the idle/auto-pause machinery.
type IdleDetectionSettings struct {
	Enabled              *bool `json:"enabled,omitempty"`
	TimeoutMinutes       int   `json:"timeout_minutes,omitempty"`
	SnoozeMinutes        int   `json:"snooze_minutes,omitempty"`
	CheckIntervalMinutes int   `json:"check_interval_minutes,omitempty"`
}

// SystemSettings is the singleton dynamic-configuration aggregate. Fields left
// at their zero value fall back to the static config defaults per-field; the
// sections never cascade atomically.
type SystemSettings struct {
	ID            string                `json:"id"`
	Provisioning  ProvisioningSettings  `json:"provisioning"`
	Monitoring    MonitoringSettings    `json:"monitoring"`
	IdleDetection IdleDetectionSettings `json:"idle_detection"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// DefaultSystemSettings returns an empty singleton; every effective value
// falls through to the static configuration.
func DefaultSystemSettings() *SystemSettings {
	return &SystemSettings{ID: SystemSettingsID, UpdatedAt: time.Now().UTC()}
}

// SystemSettingsPatch applies only non-nil fields. No positional merging.
type SystemSettingsPatch struct {
	ProvisioningRegion       *string `json:"provisioning_region,omitempty"`
	ProvisioningInstanceType *string `json:"provisioning_instance_type,omitempty"`
	ProvisioningImageRef     *string `json:"provisioning_image_ref,omitempty"`
	MonitoringPollSeconds    *int    `json:"monitoring_poll_seconds,omitempty"`
	IdleDetectionEnabled     *bool   `json:"idle_detection_enabled,omitempty"`
	IdleTimeoutMinutes       *int    `json:"idle_timeout_minutes,omitempty"`
	IdleSnoozeMinutes        *int    `json:"idle_snooze_minutes,omitempty"`
	IdleCheckIntervalMinutes *int    `json:"idle_check_interval_minutes,omitempty"`
}

// Apply merges the patch into the settings, field by field.
func (s *SystemSettings) Apply(p SystemSettingsPatch) {
	if p.ProvisioningRegion != nil {
		s.Provisioning.Region = *p.ProvisioningRegion
	}
	if p.ProvisioningInstanceType != nil {
		s.Provisioning.InstanceType = *p.ProvisioningInstanceType
	}
	if p.ProvisioningImageRef != nil {
		s.Provisioning.ImageRef = *p.ProvisioningImageRef
	}
	if p.MonitoringPollSeconds != nil {
		s.Monitoring.PollIntervalSeconds = *p.MonitoringPollSeconds
	}
	if p.IdleDetectionEnabled != nil {
		s.IdleDetection.Enabled = p.IdleDetectionEnabled
	}
	if p.IdleTimeoutMinutes != nil {
		s.IdleDetection.TimeoutMinutes = *p.IdleTimeoutMinutes
	}
	if p.IdleSnoozeMinutes != nil {
		s.IdleDetection.SnoozeMinutes = *p.IdleSnoozeMinutes
	}
	if p.IdleCheckIntervalMinutes != nil {
		s.IdleDetection.CheckIntervalMinutes = *p.IdleCheckIntervalMinutes
	}
	s.UpdatedAt = time.Now().UTC()
}
