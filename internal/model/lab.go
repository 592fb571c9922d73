package model

import (
	"time"
)

// Lab is a simulation topology running inside a worker, tracked as a child
// record. Records are refreshed wholesale from the sim app; uniqueness on
// (worker_id, lab_uid) prevents duplicate accumulation under concurrent
// refresh.
type Lab struct {
	WorkerID    string     `json:"worker_id"`
	LabUID      string     `json:"lab_uid"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	NodeCount   int        `json:"node_count"`
	Owner       string     `json:"owner,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}
