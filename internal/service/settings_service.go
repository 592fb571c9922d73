package service

import (
	"context"
	"fmt"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/config"
	"simfleet/pkg/interfaces"
	"simfleet/pkg/logger"
)

// EffectiveConfig is the runtime view of system behavior: DB-backed settings
// override static config field by field. A zero/nil dynamic value always
// means "use the static default", never "disable".
type EffectiveConfig struct {
	IdleDetectionEnabled bool          `json:"idle_detection_enabled"`
	IdleTimeout          time.Duration `json:"idle_timeout"`
	Snooze               time.Duration `json:"snooze"`
	CheckInterval        time.Duration `json:"check_interval"`
	MonitoringPoll       time.Duration `json:"monitoring_poll"`

	Region       string `json:"region"`
	InstanceType string `json:"instance_type"`
	ImageRef     string `json:"image_ref"`
}

// SettingsService serves the dynamic-configuration singleton and resolves
// effective values against the static config.
type SettingsService struct {
	repo interfaces.SettingsRepository
	cfg  *config.Config
}

// NewSettingsService creates a settings service.
func NewSettingsService(repo interfaces.SettingsRepository, cfg *config.Config) *SettingsService {
	return &SettingsService{repo: repo, cfg: cfg}
}

// Get returns the stored singleton, defaulted when absent.
func (s *SettingsService) Get(ctx context.Context) (*model.SystemSettings, error) {
	return s.repo.Get(ctx)
}

// Update applies a partial patch and persists the result. Unset patch fields
// keep their current value; the sections never cascade.
func (s *SettingsService) Update(ctx context.Context, patch model.SystemSettingsPatch) (*model.SystemSettings, error) {
	settings, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	settings.Apply(patch)
	if err := s.repo.Save(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	logger.InfoCtx(ctx, "system settings updated")
	return settings, nil
}

// Effective resolves the runtime configuration, dynamic over static per field.
func (s *SettingsService) Effective(ctx context.Context) (*EffectiveConfig, error) {
	settings, err := s.repo.Get(ctx)
	if err != nil {
		// The schedulers must keep running on static defaults when the DB
		// is briefly unavailable.
		logger.WarnCtx(ctx, "failed to load system settings, using static config: %v", err)
		settings = model.DefaultSystemSettings()
	}

	eff := &EffectiveConfig{
		IdleDetectionEnabled: s.cfg.IdleDetector.Enabled,
		IdleTimeout:          s.cfg.IdleDetector.IdleTimeout(),
		Snooze:               s.cfg.IdleDetector.Snooze(),
		CheckInterval:        time.Duration(s.cfg.IdleDetector.CheckIntervalMinutes) * time.Minute,
		MonitoringPoll:       time.Duration(s.cfg.Monitoring.PollIntervalSeconds) * time.Second,
		Region:               s.cfg.Cloud.Region,
		InstanceType:         s.cfg.Cloud.InstanceType,
		ImageRef:             s.cfg.Cloud.ImageRef,
	}

	idle := settings.IdleDetection
	if idle.Enabled != nil {
		eff.IdleDetectionEnabled = *idle.Enabled
	}
	if idle.TimeoutMinutes > 0 {
		eff.IdleTimeout = time.Duration(idle.TimeoutMinutes) * time.Minute
	}
	if idle.SnoozeMinutes > 0 {
		eff.Snooze = time.Duration(idle.SnoozeMinutes) * time.Minute
	}
	if idle.CheckIntervalMinutes > 0 {
		eff.CheckInterval = time.Duration(idle.CheckIntervalMinutes) * time.Minute
	}
	if settings.Monitoring.PollIntervalSeconds > 0 {
		eff.MonitoringPoll = time.Duration(settings.Monitoring.PollIntervalSeconds) * time.Second
	}
	if settings.Provisioning.Region != "" {
		eff.Region = settings.Provisioning.Region
	}
	if settings.Provisioning.InstanceType != "" {
		eff.InstanceType = settings.Provisioning.InstanceType
	}
	if settings.Provisioning.ImageRef != "" {
		eff.ImageRef = settings.Provisioning.ImageRef
	}
	return eff, nil
}
