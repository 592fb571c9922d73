// Package cloud defines the single cloud-instance capability the control
// plane consumes. One implementation (EC2) lives in the ec2 subpackage; no
// broader provider abstraction is attempted.
package cloud

import (
	"context"
	"errors"
)

// Provider-error kinds mapped from provider-specific failures. Handlers
// translate these into worker failure outcomes rather than surfacing raw
// SDK errors.
var (
	ErrInstanceNotFound = errors.New("cloud: instance not found")
	ErrQuotaExceeded    = errors.New("cloud: quota exceeded")
	ErrAuthFailure      = errors.New("cloud: authentication failure")
	ErrInvalidParameter = errors.New("cloud: invalid parameter")
	// ErrUnavailable marks transient transport failures worth retrying.
	ErrUnavailable = errors.New("cloud: provider unavailable")
)

// InstanceState is the provider-normalized instance lifecycle state.
type InstanceState string

const (
	InstanceStatePending      InstanceState = "pending"
	InstanceStateRunning      InstanceState = "running"
	InstanceStateStopping     InstanceState = "stopping"
	InstanceStateStopped      InstanceState = "stopped"
	InstanceStateShuttingDown InstanceState = "shutting-down"
	InstanceStateTerminated   InstanceState = "terminated"
	InstanceStateUnknown      InstanceState = "unknown"
)

// NetworkConfig carries the subnet/security wiring for a new instance.
type NetworkConfig struct {
	SubnetID        string
	SecurityGroupID string
}

// CreateInstanceRequest describes one instance to launch.
type CreateInstanceRequest struct {
	Region       string
	Name         string
	ImageRef     string
	InstanceType string
	Network      NetworkConfig
}

// Instance is the provisioned result.
type Instance struct {
	InstanceID string
	PublicIP   string
	PrivateIP  string
	State      InstanceState
}

// InstanceProvider is the cloud capability the lifecycle handlers consume.
// Every call is network-fallible and may be slow.
type InstanceProvider interface {
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error)
	StopInstance(ctx context.Context, instanceID string) error
	StartInstance(ctx context.Context, instanceID string) error
	TerminateInstance(ctx context.Context, instanceID string) error
	GetInstanceStatus(ctx context.Context, instanceID string) (InstanceState, error)
}
