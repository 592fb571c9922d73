// Package idle holds the pure idle-detection decision functions. No I/O;
// the orchestration job in internal/service feeds it and acts on the verdict.
package idle

import (
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/constants"
)

// Verdict is the outcome of one eligibility evaluation, kept for logging and
// the detection result surfaced by the orchestration job.
type Verdict struct {
	Idle             bool           `json:"idle"`
	EligibleForPause bool           `json:"eligible_for_pause"`
	IdleDuration     *time.Duration `json:"idle_duration,omitempty"`
	Reason           string         `json:"reason,omitempty"`
}

// IsIdle reports whether the worker has been inactive for at least the
// threshold. The effective last-activity timestamp falls back from
// last_activity_at to last_resumed_at to created_at; when none exist the
// worker is NOT idle. Absence of data never triggers a pause.
func IsIdle(w *model.Worker, threshold time.Duration) bool {
	d := w.CalculateIdleDuration()
	if d == nil {
		return false
	}
	return *d >= threshold
}

// EvaluatePause computes the full eligibility verdict:
// idle AND idle detection enabled (globally and per worker) AND not snoozing
// AND status Running. Running labs deliberately do not block idleness: a
// worker can host running topologies while its user is away.
func EvaluatePause(w *model.Worker, threshold, snooze time.Duration, globallyEnabled bool) Verdict {
	v := Verdict{IdleDuration: w.CalculateIdleDuration()}

	if !globallyEnabled {
		v.Reason = "idle detection disabled globally"
		return v
	}
	if !w.IsIdleDetectionEnabled {
		v.Reason = "idle detection disabled for worker"
		return v
	}
	if v.IdleDuration == nil {
		v.Reason = "no activity timestamp available"
		return v
	}
	if *v.IdleDuration < threshold {
		v.Reason = "worker active within threshold"
		return v
	}
	v.Idle = true

	if w.Status != constants.WorkerStatusRunning {
		v.Reason = "worker not running"
		return v
	}
	if w.InSnoozePeriod(snooze) {
		v.Reason = "within post-resume snooze window"
		return v
	}

	v.EligibleForPause = true
	return v
}
