package model

import (
	"time"
)

// EventType identifies a domain event emitted by the worker aggregate.
type EventType string

const (
	EventWorkerCreated          EventType = "worker.created"
	EventWorkerStatusChanged    EventType = "worker.status_changed"
	EventWorkerProvisioned      EventType = "worker.provisioned"
	EventWorkerPaused           EventType = "worker.paused"
	EventWorkerResumed          EventType = "worker.resumed"
	EventWorkerDeleted          EventType = "worker.deleted"
	EventWorkerActivityUpdated  EventType = "worker.activity_updated"
	EventIdleDetectionEnabled   EventType = "worker.idle_detection_enabled"
	EventIdleDetectionDisabled  EventType = "worker.idle_detection_disabled"
	EventLicenseOperationStart  EventType = "worker.license_operation_started"
	EventLicenseRegistered      EventType = "worker.license_registered"
	EventLicenseDeregistered    EventType = "worker.license_deregistered"
	EventLicenseOperationFailed EventType = "worker.license_operation_failed"
	EventMetricsChanged         EventType = "worker.metrics_changed"
)

// Event is a structured domain event. The aggregate records events on
// successful state changes; the repository hands them to the event bus
// exactly once after a successful write.
type Event struct {
	Type       EventType              `json:"type"`
	WorkerID   string                 `json:"worker_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, workerID string, payload map[string]interface{}) Event {
	return Event{
		Type:       t,
		WorkerID:   workerID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}
