package ec2

import (
	"errors"
	"testing"

	"simfleet/pkg/cloud"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing instance", apiError("InvalidInstanceID.NotFound", "i-1 not found"), cloud.ErrInstanceNotFound},
		{"malformed instance id", apiError("InvalidInstanceID.Malformed", "bad id"), cloud.ErrInstanceNotFound},
		{"instance quota", apiError("InstanceLimitExceeded", "too many"), cloud.ErrQuotaExceeded},
		{"vcpu quota", apiError("VcpuLimitExceeded", "too many"), cloud.ErrQuotaExceeded},
		{"auth failure", apiError("AuthFailure", "bad creds"), cloud.ErrAuthFailure},
		{"unauthorized", apiError("UnauthorizedOperation", "denied"), cloud.ErrAuthFailure},
		{"bad parameter", apiError("InvalidParameterValue", "bad subnet"), cloud.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}
}

func TestMapError_TransportFailureIsTransient(t *testing.T) {
	// A timeout or connection reset never reaches the API, so it must be
	// classified as retryable rather than as a bad request.
	err := mapError(errors.New("dial tcp: i/o timeout"))
	assert.ErrorIs(t, err, cloud.ErrUnavailable)
	assert.NotErrorIs(t, err, cloud.ErrInvalidParameter)
	assert.NotErrorIs(t, err, cloud.ErrQuotaExceeded)
	assert.NotErrorIs(t, err, cloud.ErrAuthFailure)
}

func TestMapState(t *testing.T) {
	tests := []struct {
		in   ec2types.InstanceStateName
		want cloud.InstanceState
	}{
		{ec2types.InstanceStateNamePending, cloud.InstanceStatePending},
		{ec2types.InstanceStateNameRunning, cloud.InstanceStateRunning},
		{ec2types.InstanceStateNameStopping, cloud.InstanceStateStopping},
		{ec2types.InstanceStateNameStopped, cloud.InstanceStateStopped},
		{ec2types.InstanceStateNameShuttingDown, cloud.InstanceStateShuttingDown},
		{ec2types.InstanceStateNameTerminated, cloud.InstanceStateTerminated},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapState(&ec2types.InstanceState{Name: tt.in}))
	}
	assert.Equal(t, cloud.InstanceStateUnknown, mapState(nil))
}
