package model

import "time"

// Lab is a topology child record. The (worker_id, lab_uid) unique index
// prevents duplicate accumulation under concurrent refresh.
type Lab struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	WorkerID    string     `gorm:"column:worker_id;not null;uniqueIndex:idx_worker_lab"`
	LabUID      string     `gorm:"column:lab_uid;not null;uniqueIndex:idx_worker_lab"`
	Title       string     `gorm:"column:title"`
	State       string     `gorm:"column:state"`
	NodeCount   int        `gorm:"column:node_count;default:0"`
	Owner       string     `gorm:"column:owner"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
	RefreshedAt *time.Time `gorm:"column:refreshed_at"`
}

func (Lab) TableName() string {
	return "labs"
}
