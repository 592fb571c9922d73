package model

import "time"

// SystemSettings is the singleton dynamic-configuration row (id "default").
type SystemSettings struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Provisioning  JSONMap   `gorm:"column:provisioning;type:json"`
	Monitoring    JSONMap   `gorm:"column:monitoring;type:json"`
	IdleDetection JSONMap   `gorm:"column:idle_detection;type:json"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

func (SystemSettings) TableName() string {
	return "system_settings"
}
