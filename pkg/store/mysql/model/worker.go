package model

import "time"

// Worker represents a worker record in database. The version column is the
// optimistic-concurrency token; updates are conditional on it.
type Worker struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	WorkerID      string `gorm:"column:worker_id;not null;uniqueIndex"`
	Name          string `gorm:"column:name;not null"`
	Status        string `gorm:"column:status;not null;default:PENDING;index"`
	ServiceStatus string `gorm:"column:service_status;not null;default:UNAVAILABLE"`

	Region       string  `gorm:"column:region"`
	InstanceID   *string `gorm:"column:instance_id;index"`
	InstanceType string  `gorm:"column:instance_type"`
	ImageRef     string  `gorm:"column:image_ref"`
	PublicIP     *string `gorm:"column:public_ip"`
	PrivateIP    *string `gorm:"column:private_ip"`

	LicenseStatus     string  `gorm:"column:license_status;not null;default:UNREGISTERED"`
	LicenseToken      string  `gorm:"column:license_token"`
	LicenseOpInFlight bool    `gorm:"column:license_op_in_flight;not null;default:false"`
	LicenseRaw        JSONMap `gorm:"column:license_raw;type:json"`

	MetricsVersion string     `gorm:"column:metrics_version"`
	MetricsReady   bool       `gorm:"column:metrics_ready;not null;default:false"`
	UptimeSeconds  float64    `gorm:"column:uptime_seconds;default:0"`
	LabsCount      int        `gorm:"column:labs_count;default:0"`
	SystemInfo     JSONMap    `gorm:"column:system_info;type:json"`
	SystemHealth   JSONMap    `gorm:"column:system_health;type:json"`
	LastSyncedAt   *time.Time `gorm:"column:last_synced_at"`

	LastActivityAt       *time.Time `gorm:"column:last_activity_at"`
	LastActivityCheckAt  *time.Time `gorm:"column:last_activity_check_at"`
	RecentActivityEvents string     `gorm:"column:recent_activity_events;type:text"` // JSON array, most-recent-first
	NextIdleCheckAt      *time.Time `gorm:"column:next_idle_check_at"`
	TargetPauseAt        *time.Time `gorm:"column:target_pause_at"`
	IdleDetectionEnabled bool       `gorm:"column:idle_detection_enabled;not null;default:true"`

	AutoPauseCount    int        `gorm:"column:auto_pause_count;default:0"`
	ManualPauseCount  int        `gorm:"column:manual_pause_count;default:0"`
	AutoResumeCount   int        `gorm:"column:auto_resume_count;default:0"`
	ManualResumeCount int        `gorm:"column:manual_resume_count;default:0"`
	LastPausedAt      *time.Time `gorm:"column:last_paused_at"`
	LastResumedAt     *time.Time `gorm:"column:last_resumed_at"`
	PausedBy          string     `gorm:"column:paused_by"`
	PauseReason       string     `gorm:"column:pause_reason"`

	Version   int64     `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (Worker) TableName() string {
	return "workers"
}
