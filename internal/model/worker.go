package model

import (
	"time"

	"simfleet/pkg/constants"
)

const (
	// MaxStoredActivityEvents caps the recent-activity list kept on the
	// aggregate. Oldest entries are dropped, never the newest.
	MaxStoredActivityEvents = 10
)

// legalTransitions is the full edge set of the worker status state machine.
// Anything not listed here is rejected with InvalidStateTransitionError.
var legalTransitions = map[constants.WorkerStatus][]constants.WorkerStatus{
	constants.WorkerStatusPending: {
		constants.WorkerStatusStarting,
		constants.WorkerStatusRunning,
		constants.WorkerStatusFailed,
		constants.WorkerStatusTerminated,
	},
	constants.WorkerStatusStarting: {
		constants.WorkerStatusRunning,
		constants.WorkerStatusFailed,
	},
	constants.WorkerStatusRunning: {
		constants.WorkerStatusStopping,
		constants.WorkerStatusShuttingDown,
		constants.WorkerStatusFailed,
	},
	constants.WorkerStatusStopping: {
		constants.WorkerStatusStopped,
		constants.WorkerStatusFailed,
	},
	constants.WorkerStatusStopped: {
		constants.WorkerStatusStarting,
		constants.WorkerStatusRunning,
		constants.WorkerStatusShuttingDown,
		constants.WorkerStatusFailed,
	},
	constants.WorkerStatusShuttingDown: {
		constants.WorkerStatusTerminated,
		constants.WorkerStatusFailed,
	},
	// Unknown shows up when a status sync cannot classify the instance.
	// Allow recovery toward any observable state.
	constants.WorkerStatusUnknown: {
		constants.WorkerStatusRunning,
		constants.WorkerStatusStopping,
		constants.WorkerStatusStopped,
		constants.WorkerStatusFailed,
	},
	// Terminated and Failed are terminal for the normal flow.
	constants.WorkerStatusTerminated: {},
	constants.WorkerStatusFailed:     {},
}

// License is the license value object on the worker aggregate.
// OperationInProgress guards against concurrent register/deregister attempts;
// it is enforced at the aggregate level and therefore subject to the same
// optimistic-concurrency discipline as every other field.
type License struct {
	Status              constants.LicenseStatus `json:"status"`
	Token               string                  `json:"token,omitempty"`
	OperationInProgress bool                    `json:"operation_in_progress"`
	Raw                 map[string]interface{}  `json:"raw,omitempty"`
}

// SimMetrics is an immutable snapshot of the sim app's reported state.
// It is replaced wholesale on each sync, never partially mutated.
type SimMetrics struct {
	Version       string                 `json:"version,omitempty"`
	Ready         bool                   `json:"ready"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	LabsCount     int                    `json:"labs_count"`
	SystemInfo    map[string]interface{} `json:"system_info,omitempty"`
	SystemHealth  map[string]interface{} `json:"system_health,omitempty"`
	LastSyncedAt  *time.Time             `json:"last_synced_at,omitempty"`
}

// ActivityEvent is one relevant user-activity event kept on the aggregate,
// most-recent-first.
type ActivityEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Category    string    `json:"category"`
	ActorID     string    `json:"actor_id,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Worker is the central aggregate: one cloud VM instance hosting a sim app.
// Mutating methods validate the pre-state, update fields, bump Version exactly
// once and may record a domain event. Events are flushed by the repository
// after a successful write.
type Worker struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Status        constants.WorkerStatus  `json:"status"`
	ServiceStatus constants.ServiceStatus `json:"service_status"`

	// Cloud attributes
	Region       string  `json:"region"`
	InstanceID   *string `json:"instance_id,omitempty"`
	InstanceType string  `json:"instance_type"`
	ImageRef     string  `json:"image_ref,omitempty"`
	PublicIP     *string `json:"public_ip,omitempty"`
	PrivateIP    *string `json:"private_ip,omitempty"`

	License License    `json:"license"`
	Metrics SimMetrics `json:"metrics"`

	// Activity tracking
	LastActivityAt         *time.Time      `json:"last_activity_at,omitempty"`
	LastActivityCheckAt    *time.Time      `json:"last_activity_check_at,omitempty"`
	RecentActivityEvents   []ActivityEvent `json:"recent_activity_events,omitempty"`
	NextIdleCheckAt        *time.Time      `json:"next_idle_check_at,omitempty"`
	TargetPauseAt          *time.Time      `json:"target_pause_at,omitempty"`
	IsIdleDetectionEnabled bool            `json:"is_idle_detection_enabled"`

	// Pause/resume bookkeeping
	AutoPauseCount    int        `json:"auto_pause_count"`
	ManualPauseCount  int        `json:"manual_pause_count"`
	AutoResumeCount   int        `json:"auto_resume_count"`
	ManualResumeCount int        `json:"manual_resume_count"`
	LastPausedAt      *time.Time `json:"last_paused_at,omitempty"`
	LastResumedAt     *time.Time `json:"last_resumed_at,omitempty"`
	PausedBy          string     `json:"paused_by,omitempty"`
	PauseReason       string     `json:"pause_reason,omitempty"`

	// Version is the optimistic-concurrency token. Every persisted mutation
	// bumps it exactly once; the repository rejects writes whose version does
	// not match the stored record.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	pendingEvents []Event
	baseVersion   int64
}

// BaseVersion is the version read from the store when the aggregate was
// loaded. The repository's optimistic check compares it against the stored
// record; in-memory mutations move Version, never BaseVersion.
func (w *Worker) BaseVersion() int64 {
	return w.baseVersion
}

// SyncBaseVersion marks the current version as persisted. Called by the
// repository after a load or a successful write.
func (w *Worker) SyncBaseVersion() {
	w.baseVersion = w.Version
}

// NewWorker creates a Pending worker at version 0 and records the created event.
func NewWorker(id, name, region, instanceType, imageRef string) *Worker {
	now := time.Now().UTC()
	w := &Worker{
		ID:            id,
		Name:          name,
		Status:        constants.WorkerStatusPending,
		ServiceStatus: constants.ServiceStatusUnavailable,
		Region:        region,
		InstanceType:  instanceType,
		ImageRef:      imageRef,
		License: License{
			Status: constants.LicenseStatusUnregistered,
		},
		IsIdleDetectionEnabled: true,
		Version:                0,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	w.recordEvent(EventWorkerCreated, map[string]interface{}{
		"name":          name,
		"region":        region,
		"instance_type": instanceType,
	})
	return w
}

// PendingEvents returns the events recorded since the last successful write.
func (w *Worker) PendingEvents() []Event {
	return w.pendingEvents
}

// ClearPendingEvents drops recorded events. Called by the repository exactly
// once after a successful write, never on a failed or retried one.
func (w *Worker) ClearPendingEvents() {
	w.pendingEvents = nil
}

func (w *Worker) recordEvent(t EventType, payload map[string]interface{}) {
	w.pendingEvents = append(w.pendingEvents, NewEvent(t, w.ID, payload))
}

func (w *Worker) touch() {
	w.Version++
	w.UpdatedAt = time.Now().UTC()
}

// CanTransitionTo reports whether the status change is in the legal edge set.
func (w *Worker) CanTransitionTo(target constants.WorkerStatus) bool {
	// Any non-terminal worker may drop to Unknown when a status sync cannot
	// classify its instance.
	if target == constants.WorkerStatusUnknown {
		return !w.IsTerminal()
	}
	for _, allowed := range legalTransitions[w.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// UpdateStatus enforces the transition table. Illegal transitions are
// rejected, not coerced. A same-status update is a no-op success.
func (w *Worker) UpdateStatus(target constants.WorkerStatus) error {
	if w.Status == target {
		return nil
	}
	if !w.CanTransitionTo(target) {
		return &InvalidStateTransitionError{From: w.Status, To: target}
	}
	previous := w.Status
	w.Status = target
	w.touch()
	w.recordEvent(EventWorkerStatusChanged, map[string]interface{}{
		"previous_status": previous.String(),
		"status":          target.String(),
	})
	return nil
}

// AssignInstance records the provisioned cloud instance. Valid only while the
// worker has no instance; calling it again with identical values is an
// idempotent no-op, anything else fails with ErrAlreadyProvisioned.
func (w *Worker) AssignInstance(instanceID, publicIP, privateIP string) error {
	if w.InstanceID != nil {
		if *w.InstanceID == instanceID &&
			strPtrEqual(w.PublicIP, publicIP) && strPtrEqual(w.PrivateIP, privateIP) {
			return nil
		}
		return ErrAlreadyProvisioned
	}
	w.InstanceID = &instanceID
	if publicIP != "" {
		w.PublicIP = &publicIP
	}
	if privateIP != "" {
		w.PrivateIP = &privateIP
	}
	w.touch()
	w.recordEvent(EventWorkerProvisioned, map[string]interface{}{
		"instance_id": instanceID,
		"public_ip":   publicIP,
		"private_ip":  privateIP,
	})
	return nil
}

// Pause transitions Running -> Stopping and stamps pause bookkeeping.
// The cloud stop call drives the worker to Stopped externally.
func (w *Worker) Pause(isAuto bool, pausedBy, reason string) error {
	if w.Status != constants.WorkerStatusRunning {
		return &InvalidStateTransitionError{From: w.Status, To: constants.WorkerStatusStopping}
	}
	w.Status = constants.WorkerStatusStopping
	now := time.Now().UTC()
	w.LastPausedAt = &now
	w.PausedBy = pausedBy
	w.PauseReason = reason
	if isAuto {
		w.AutoPauseCount++
	} else {
		w.ManualPauseCount++
	}
	w.TargetPauseAt = nil
	w.touch()
	w.recordEvent(EventWorkerPaused, map[string]interface{}{
		"auto":      isAuto,
		"paused_by": pausedBy,
		"reason":    reason,
	})
	return nil
}

// Resume transitions Stopped -> Starting and stamps resume bookkeeping.
// The event payload records whether the prior pause was automatic.
func (w *Worker) Resume(isAuto bool) error {
	if w.Status != constants.WorkerStatusStopped {
		return &InvalidStateTransitionError{From: w.Status, To: constants.WorkerStatusStarting}
	}
	wasAutoPaused := w.PausedBy == constants.PausedByAutoPause
	w.Status = constants.WorkerStatusStarting
	now := time.Now().UTC()
	w.LastResumedAt = &now
	if isAuto {
		w.AutoResumeCount++
	} else {
		w.ManualResumeCount++
	}
	w.touch()
	w.recordEvent(EventWorkerResumed, map[string]interface{}{
		"auto":            isAuto,
		"was_auto_paused": wasAutoPaused,
	})
	return nil
}

// UpdateActivity replaces the activity-tracking fields. Always allowed.
// recentEvents is truncated to MaxStoredActivityEvents, keeping the newest.
func (w *Worker) UpdateActivity(lastActivityAt *time.Time, recentEvents []ActivityEvent, lastCheckAt, nextCheckAt, targetPauseAt *time.Time) {
	if lastActivityAt != nil {
		// Only genuinely new activity fires an event; sweep bookkeeping
		// with no fresh telemetry stays silent.
		if w.LastActivityAt == nil || lastActivityAt.After(*w.LastActivityAt) {
			w.recordEvent(EventWorkerActivityUpdated, map[string]interface{}{
				"last_activity_at": lastActivityAt.UTC().Format(time.RFC3339),
			})
		}
		w.LastActivityAt = lastActivityAt
	}
	if len(recentEvents) > MaxStoredActivityEvents {
		recentEvents = recentEvents[:MaxStoredActivityEvents]
	}
	if recentEvents != nil {
		w.RecentActivityEvents = recentEvents
	}
	w.LastActivityCheckAt = lastCheckAt
	w.NextIdleCheckAt = nextCheckAt
	w.TargetPauseAt = targetPauseAt
	w.touch()
}

// EnableIdleDetection turns idle detection on. Idempotent; records an event
// only on an actual change.
func (w *Worker) EnableIdleDetection(enabledBy string) {
	if w.IsIdleDetectionEnabled {
		return
	}
	w.IsIdleDetectionEnabled = true
	w.touch()
	w.recordEvent(EventIdleDetectionEnabled, map[string]interface{}{
		"enabled_by": enabledBy,
	})
}

// DisableIdleDetection turns idle detection off. Idempotent.
func (w *Worker) DisableIdleDetection(disabledBy string) {
	if !w.IsIdleDetectionEnabled {
		return
	}
	w.IsIdleDetectionEnabled = false
	w.touch()
	w.recordEvent(EventIdleDetectionDisabled, map[string]interface{}{
		"disabled_by": disabledBy,
	})
}

// StartLicenseRegistration marks a registration in flight. At most one
// license operation may be in flight per worker.
func (w *Worker) StartLicenseRegistration(token string) error {
	if w.License.OperationInProgress {
		return ErrOperationInProgress
	}
	w.License.OperationInProgress = true
	w.License.Token = token
	w.touch()
	w.recordEvent(EventLicenseOperationStart, map[string]interface{}{
		"operation": "register",
	})
	return nil
}

// CompleteLicenseRegistration clears the in-flight guard and marks the
// license Registered.
func (w *Worker) CompleteLicenseRegistration(raw map[string]interface{}) error {
	if !w.License.OperationInProgress {
		return ErrNoOperationInProgress
	}
	w.License.OperationInProgress = false
	w.License.Status = constants.LicenseStatusRegistered
	w.License.Raw = raw
	w.touch()
	w.recordEvent(EventLicenseRegistered, nil)
	return nil
}

// FailLicenseRegistration clears the in-flight guard and marks the license
// Invalid with the failure reason in the event payload.
func (w *Worker) FailLicenseRegistration(reason string) error {
	if !w.License.OperationInProgress {
		return ErrNoOperationInProgress
	}
	w.License.OperationInProgress = false
	w.License.Status = constants.LicenseStatusInvalid
	w.touch()
	w.recordEvent(EventLicenseOperationFailed, map[string]interface{}{
		"operation": "register",
		"reason":    reason,
	})
	return nil
}

// AbortLicenseOperation releases the in-flight guard for a command that
// never reached the sim app, e.g. a failed enqueue. The license status
// stays untouched since nothing changed remotely.
func (w *Worker) AbortLicenseOperation(reason string) error {
	if !w.License.OperationInProgress {
		return ErrNoOperationInProgress
	}
	w.License.OperationInProgress = false
	w.touch()
	w.recordEvent(EventLicenseOperationFailed, map[string]interface{}{
		"operation": "abort",
		"reason":    reason,
	})
	return nil
}

// StartLicenseDeregistration marks a deregistration in flight.
func (w *Worker) StartLicenseDeregistration() error {
	if w.License.OperationInProgress {
		return ErrOperationInProgress
	}
	w.License.OperationInProgress = true
	w.touch()
	w.recordEvent(EventLicenseOperationStart, map[string]interface{}{
		"operation": "deregister",
	})
	return nil
}

// CompleteLicenseDeregistration clears the guard and resets the license.
func (w *Worker) CompleteLicenseDeregistration() error {
	if !w.License.OperationInProgress {
		return ErrNoOperationInProgress
	}
	w.License.OperationInProgress = false
	w.License.Status = constants.LicenseStatusUnregistered
	w.License.Token = ""
	w.License.Raw = nil
	w.touch()
	w.recordEvent(EventLicenseDeregistered, nil)
	return nil
}

// FailLicenseDeregistration clears the guard; the license status is left
// unchanged since the remote state is unknown.
func (w *Worker) FailLicenseDeregistration(reason string) error {
	if !w.License.OperationInProgress {
		return ErrNoOperationInProgress
	}
	w.License.OperationInProgress = false
	w.touch()
	w.recordEvent(EventLicenseOperationFailed, map[string]interface{}{
		"operation": "deregister",
		"reason":    reason,
	})
	return nil
}

// metricsChangeThreshold is the relative change on numeric metrics below
// which no change event fires. Stored values are always replaced.
const metricsChangeThreshold = 0.05

// UpdateSimMetrics replaces the metrics snapshot wholesale and stamps
// LastSyncedAt. A change event fires only when the snapshot differs beyond
// the noise threshold, so poll-driven jitter does not cause event storms.
func (w *Worker) UpdateSimMetrics(m SimMetrics) {
	previous := w.Metrics
	now := time.Now().UTC()
	m.LastSyncedAt = &now
	w.Metrics = m
	w.touch()

	if metricsChangedSignificantly(previous, m) {
		w.recordEvent(EventMetricsChanged, map[string]interface{}{
			"version":    m.Version,
			"ready":      m.Ready,
			"labs_count": m.LabsCount,
		})
	}
}

func metricsChangedSignificantly(prev, next SimMetrics) bool {
	if prev.Version != next.Version || prev.Ready != next.Ready {
		return true
	}
	if prev.LabsCount != next.LabsCount {
		return true
	}
	return relativeChange(prev.UptimeSeconds, next.UptimeSeconds) >= metricsChangeThreshold
}

func relativeChange(prev, next float64) float64 {
	if prev == 0 {
		if next == 0 {
			return 0
		}
		return 1
	}
	diff := next - prev
	if diff < 0 {
		diff = -diff
	}
	return diff / prev
}

// EffectiveLastActivity returns the timestamp the idle clock runs against:
// last activity, else last resume, else creation time. Nil when none exist.
func (w *Worker) EffectiveLastActivity() *time.Time {
	if w.LastActivityAt != nil {
		return w.LastActivityAt
	}
	if w.LastResumedAt != nil {
		return w.LastResumedAt
	}
	if !w.CreatedAt.IsZero() {
		t := w.CreatedAt
		return &t
	}
	return nil
}

// CalculateIdleDuration returns now minus the effective last-activity
// timestamp, or nil when no timestamp is available anywhere.
func (w *Worker) CalculateIdleDuration() *time.Duration {
	last := w.EffectiveLastActivity()
	if last == nil {
		return nil
	}
	d := time.Now().UTC().Sub(last.UTC())
	return &d
}

// InSnoozePeriod reports whether the worker resumed less than snooze ago.
// A freshly resumed worker is never immediately re-paused.
func (w *Worker) InSnoozePeriod(snooze time.Duration) bool {
	if w.LastResumedAt == nil {
		return false
	}
	return time.Now().UTC().Sub(w.LastResumedAt.UTC()) < snooze
}

// IsTerminal reports whether the worker reached a terminal status.
func (w *Worker) IsTerminal() bool {
	return w.Status == constants.WorkerStatusTerminated || w.Status == constants.WorkerStatusFailed
}

func strPtrEqual(p *string, s string) bool {
	if p == nil {
		return s == ""
	}
	return *p == s
}
