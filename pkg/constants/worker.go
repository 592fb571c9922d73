package constants

// Worker status constants
type WorkerStatus string

const (
	WorkerStatusPending      WorkerStatus = "PENDING"       // Record created, no cloud instance yet
	WorkerStatusStarting     WorkerStatus = "STARTING"      // Cloud instance booting
	WorkerStatusRunning      WorkerStatus = "RUNNING"       // Instance up, sim app reachable or starting
	WorkerStatusStopping     WorkerStatus = "STOPPING"      // Stop requested, instance shutting down
	WorkerStatusStopped      WorkerStatus = "STOPPED"       // Instance stopped, resumable
	WorkerStatusShuttingDown WorkerStatus = "SHUTTING_DOWN" // Terminate requested
	WorkerStatusTerminated   WorkerStatus = "TERMINATED"    // Instance gone, record retained
	WorkerStatusFailed       WorkerStatus = "FAILED"        // Provisioning or operational failure
	WorkerStatusUnknown      WorkerStatus = "UNKNOWN"       // Status could not be determined
)

func (s WorkerStatus) String() string {
	return string(s)
}

// ServiceStatus tracks reachability of the hosted sim application,
// independent of the instance status.
type ServiceStatus string

const (
	ServiceStatusUnavailable ServiceStatus = "UNAVAILABLE"
	ServiceStatusStarting    ServiceStatus = "STARTING"
	ServiceStatusAvailable   ServiceStatus = "AVAILABLE"
	ServiceStatusError       ServiceStatus = "ERROR"
)

func (s ServiceStatus) String() string {
	return string(s)
}

// License status constants
type LicenseStatus string

const (
	LicenseStatusUnregistered LicenseStatus = "UNREGISTERED"
	LicenseStatusRegistered   LicenseStatus = "REGISTERED"
	LicenseStatusEvaluation   LicenseStatus = "EVALUATION"
	LicenseStatusExpired      LicenseStatus = "EXPIRED"
	LicenseStatusInvalid      LicenseStatus = "INVALID"
)

func (s LicenseStatus) String() string {
	return string(s)
}

// PausedBy identifies who initiated a pause
const (
	PausedByAutoPause = "auto-pause"
	PausedBySystem    = "system"
)
