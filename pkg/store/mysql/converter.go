package mysql

import (
	"encoding/json"

	domain "simfleet/internal/model"
	"simfleet/pkg/constants"
	"simfleet/pkg/store/mysql/model"
)

// toWorkerRecord maps the domain aggregate to its persistence shape.
func toWorkerRecord(w *domain.Worker) *model.Worker {
	events, _ := json.Marshal(w.RecentActivityEvents)
	rec := &model.Worker{
		WorkerID:      w.ID,
		Name:          w.Name,
		Status:        w.Status.String(),
		ServiceStatus: w.ServiceStatus.String(),

		Region:       w.Region,
		InstanceID:   w.InstanceID,
		InstanceType: w.InstanceType,
		ImageRef:     w.ImageRef,
		PublicIP:     w.PublicIP,
		PrivateIP:    w.PrivateIP,

		LicenseStatus:     w.License.Status.String(),
		LicenseToken:      w.License.Token,
		LicenseOpInFlight: w.License.OperationInProgress,
		LicenseRaw:        model.JSONMap(w.License.Raw),

		MetricsVersion: w.Metrics.Version,
		MetricsReady:   w.Metrics.Ready,
		UptimeSeconds:  w.Metrics.UptimeSeconds,
		LabsCount:      w.Metrics.LabsCount,
		SystemInfo:     model.JSONMap(w.Metrics.SystemInfo),
		SystemHealth:   model.JSONMap(w.Metrics.SystemHealth),
		LastSyncedAt:   w.Metrics.LastSyncedAt,

		LastActivityAt:       w.LastActivityAt,
		LastActivityCheckAt:  w.LastActivityCheckAt,
		RecentActivityEvents: string(events),
		NextIdleCheckAt:      w.NextIdleCheckAt,
		TargetPauseAt:        w.TargetPauseAt,
		IdleDetectionEnabled: w.IsIdleDetectionEnabled,

		AutoPauseCount:    w.AutoPauseCount,
		ManualPauseCount:  w.ManualPauseCount,
		AutoResumeCount:   w.AutoResumeCount,
		ManualResumeCount: w.ManualResumeCount,
		LastPausedAt:      w.LastPausedAt,
		LastResumedAt:     w.LastResumedAt,
		PausedBy:          w.PausedBy,
		PauseReason:       w.PauseReason,

		Version:   w.Version,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	return rec
}

// toWorkerDomain maps a persistence record back to the aggregate.
func toWorkerDomain(rec *model.Worker) *domain.Worker {
	var events []domain.ActivityEvent
	if rec.RecentActivityEvents != "" {
		_ = json.Unmarshal([]byte(rec.RecentActivityEvents), &events)
	}
	return &domain.Worker{
		ID:            rec.WorkerID,
		Name:          rec.Name,
		Status:        constants.WorkerStatus(rec.Status),
		ServiceStatus: constants.ServiceStatus(rec.ServiceStatus),

		Region:       rec.Region,
		InstanceID:   rec.InstanceID,
		InstanceType: rec.InstanceType,
		ImageRef:     rec.ImageRef,
		PublicIP:     rec.PublicIP,
		PrivateIP:    rec.PrivateIP,

		License: domain.License{
			Status:              constants.LicenseStatus(rec.LicenseStatus),
			Token:               rec.LicenseToken,
			OperationInProgress: rec.LicenseOpInFlight,
			Raw:                 rec.LicenseRaw,
		},
		Metrics: domain.SimMetrics{
			Version:       rec.MetricsVersion,
			Ready:         rec.MetricsReady,
			UptimeSeconds: rec.UptimeSeconds,
			LabsCount:     rec.LabsCount,
			SystemInfo:    rec.SystemInfo,
			SystemHealth:  rec.SystemHealth,
			LastSyncedAt:  rec.LastSyncedAt,
		},

		LastActivityAt:         rec.LastActivityAt,
		LastActivityCheckAt:    rec.LastActivityCheckAt,
		RecentActivityEvents:   events,
		NextIdleCheckAt:        rec.NextIdleCheckAt,
		TargetPauseAt:          rec.TargetPauseAt,
		IsIdleDetectionEnabled: rec.IdleDetectionEnabled,

		AutoPauseCount:    rec.AutoPauseCount,
		ManualPauseCount:  rec.ManualPauseCount,
		AutoResumeCount:   rec.AutoResumeCount,
		ManualResumeCount: rec.ManualResumeCount,
		LastPausedAt:      rec.LastPausedAt,
		LastResumedAt:     rec.LastResumedAt,
		PausedBy:          rec.PausedBy,
		PauseReason:       rec.PauseReason,

		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// toLabRecord maps the domain lab to its persistence shape.
func toLabRecord(l *domain.Lab) *model.Lab {
	return &model.Lab{
		WorkerID:    l.WorkerID,
		LabUID:      l.LabUID,
		Title:       l.Title,
		State:       l.State,
		NodeCount:   l.NodeCount,
		Owner:       l.Owner,
		CreatedAt:   l.CreatedAt,
		RefreshedAt: l.RefreshedAt,
	}
}

// toLabDomain maps a lab record back to the domain.
func toLabDomain(rec *model.Lab) *domain.Lab {
	return &domain.Lab{
		WorkerID:    rec.WorkerID,
		LabUID:      rec.LabUID,
		Title:       rec.Title,
		State:       rec.State,
		NodeCount:   rec.NodeCount,
		Owner:       rec.Owner,
		CreatedAt:   rec.CreatedAt,
		RefreshedAt: rec.RefreshedAt,
	}
}
