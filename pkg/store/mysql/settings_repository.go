package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "simfleet/internal/model"
	"simfleet/pkg/store/mysql/model"

	"gorm.io/gorm"
)

// SettingsRepository persists the SystemSettings singleton.
type SettingsRepository struct {
	ds *Datastore
}

// NewSettingsRepository creates a settings repository.
func NewSettingsRepository(ds *Datastore) *SettingsRepository {
	return &SettingsRepository{ds: ds}
}

// Get loads the singleton, returning empty defaults when the row does not
// exist yet. Every effective value then falls through to static config.
func (r *SettingsRepository) Get(ctx context.Context) (*domain.SystemSettings, error) {
	var rec model.SystemSettings
	err := r.ds.DB(ctx).Where("id = ?", domain.SystemSettingsID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DefaultSystemSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system settings: %w", err)
	}
	return toSettingsDomain(&rec)
}

// Save upserts the singleton row.
func (r *SettingsRepository) Save(ctx context.Context, s *domain.SystemSettings) error {
	rec, err := toSettingsRecord(s)
	if err != nil {
		return err
	}
	result := r.ds.DB(ctx).Model(&model.SystemSettings{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"provisioning":   rec.Provisioning,
			"monitoring":     rec.Monitoring,
			"idle_detection": rec.IdleDetection,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save system settings: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if err := r.ds.DB(ctx).Create(rec).Error; err != nil {
			return fmt.Errorf("failed to create system settings: %w", err)
		}
	}
	return nil
}

func toSettingsRecord(s *domain.SystemSettings) (*model.SystemSettings, error) {
	prov, err := toJSONMap(s.Provisioning)
	if err != nil {
		return nil, err
	}
	mon, err := toJSONMap(s.Monitoring)
	if err != nil {
		return nil, err
	}
	idle, err := toJSONMap(s.IdleDetection)
	if err != nil {
		return nil, err
	}
	return &model.SystemSettings{
		ID:            domain.SystemSettingsID,
		Provisioning:  prov,
		Monitoring:    mon,
		IdleDetection: idle,
		UpdatedAt:     s.UpdatedAt,
	}, nil
}

func toSettingsDomain(rec *model.SystemSettings) (*domain.SystemSettings, error) {
	s := &domain.SystemSettings{ID: rec.ID, UpdatedAt: rec.UpdatedAt}
	if err := fromJSONMap(rec.Provisioning, &s.Provisioning); err != nil {
		return nil, err
	}
	if err := fromJSONMap(rec.Monitoring, &s.Monitoring); err != nil {
		return nil, err
	}
	if err := fromJSONMap(rec.IdleDetection, &s.IdleDetection); err != nil {
		return nil, err
	}
	return s, nil
}

func toJSONMap(v interface{}) (model.JSONMap, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings section: %w", err)
	}
	var m model.JSONMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to convert settings section: %w", err)
	}
	return m, nil
}

func fromJSONMap(m model.JSONMap, out interface{}) error {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal settings section: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse settings section: %w", err)
	}
	return nil
}
