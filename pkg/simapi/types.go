package simapi

import (
	"simfleet/pkg/telemetry"
)

// SystemInfo is the sim app's version/readiness report.
type SystemInfo struct {
	Version       string  `json:"version"`
	Ready         bool    `json:"ready"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// SystemHealth is the sim app's health blob, passed through opaquely.
type SystemHealth struct {
	Valid bool                   `json:"valid"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// SystemStats carries resource utilization figures.
type SystemStats struct {
	CPUPercent    float64                `json:"cpu_percent"`
	MemoryPercent float64                `json:"memory_percent"`
	Raw           map[string]interface{} `json:"raw,omitempty"`
}

// Licensing is the sim app's license report.
type Licensing struct {
	Status         string                 `json:"status"` // e.g. IN_COMPLIANCE, EVALUATION, EXPIRED
	RegistrationID string                 `json:"registration_id,omitempty"`
	Raw            map[string]interface{} `json:"raw,omitempty"`
}

// Terminal licensing status values observed while polling a register or
// deregister operation.
const (
	LicensingStatusCompliant    = "IN_COMPLIANCE"
	LicensingStatusEvaluation   = "EVALUATION"
	LicensingStatusUnregistered = "UNREGISTERED"
	LicensingStatusExpired      = "EXPIRED"
	LicensingStatusInvalid      = "INVALID"
)

// Lab is one topology as reported by the sim app.
type Lab struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	State     string `json:"state"`
	NodeCount int    `json:"node_count"`
	Owner     string `json:"owner,omitempty"`
	Created   string `json:"created,omitempty"`
}

// RegisterResult is the outcome of a license register/deregister call.
type RegisterResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// TelemetryResponse wraps the raw event batch.
type TelemetryResponse struct {
	Events []telemetry.Event `json:"events"`
}
