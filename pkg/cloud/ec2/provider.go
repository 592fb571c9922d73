package ec2

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"simfleet/pkg/cloud"
	"simfleet/pkg/config"
	"simfleet/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

const (
	tagRole = "simfleet:role"
	tagName = "Name"
)

// Provider implements cloud.InstanceProvider on AWS EC2.
type Provider struct {
	client *ec2.Client
	cfg    config.CloudConfig
}

// NewProvider creates an EC2-backed instance provider. Configured static
// credentials take precedence; otherwise the default AWS chain applies
// (env vars, shared config, instance profile).
func NewProvider(ctx context.Context, cfg config.CloudConfig) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ec2: failed to load AWS config: %w", err)
	}
	return &Provider{
		client: ec2.NewFromConfig(awsCfg),
		cfg:    cfg,
	}, nil
}

// CreateInstance launches one tagged instance and returns its identity and
// addresses. The instance usually comes back in pending state; the status
// sync drives the worker to Running once the instance is up.
func (p *Provider) CreateInstance(ctx context.Context, req cloud.CreateInstanceRequest) (*cloud.Instance, error) {
	imageRef := req.ImageRef
	if imageRef == "" {
		imageRef = p.cfg.ImageRef
	}
	instanceType := req.InstanceType
	if instanceType == "" {
		instanceType = p.cfg.InstanceType
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(imageRef),
		InstanceType: ec2types.InstanceType(instanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String(tagName), Value: aws.String(req.Name)},
					{Key: aws.String(tagRole), Value: aws.String("sim-worker")},
				},
			},
		},
	}
	if req.Network.SubnetID != "" {
		input.SubnetId = aws.String(req.Network.SubnetID)
	} else if p.cfg.SubnetID != "" {
		input.SubnetId = aws.String(p.cfg.SubnetID)
	}
	if req.Network.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{req.Network.SecurityGroupID}
	} else if p.cfg.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{p.cfg.SecurityGroupID}
	}

	result, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return nil, mapError(err)
	}
	if len(result.Instances) == 0 {
		return nil, fmt.Errorf("ec2: RunInstances returned no instances")
	}

	inst := result.Instances[0]
	out := &cloud.Instance{
		InstanceID: aws.ToString(inst.InstanceId),
		PublicIP:   aws.ToString(inst.PublicIpAddress),
		PrivateIP:  aws.ToString(inst.PrivateIpAddress),
		State:      mapState(inst.State),
	}
	logger.InfoCtx(ctx, "launched instance %s (%s) for %s", out.InstanceID, instanceType, req.Name)
	return out, nil
}

// StopInstance requests a stop; the instance transitions through stopping to
// stopped asynchronously.
func (p *Provider) StopInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// StartInstance requests a start on a stopped instance.
func (p *Provider) StartInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// TerminateInstance permanently destroys the instance.
func (p *Provider) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// GetInstanceStatus describes the instance and normalizes its state.
func (p *Provider) GetInstanceStatus(ctx context.Context, instanceID string) (cloud.InstanceState, error) {
	result, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return cloud.InstanceStateUnknown, mapError(err)
	}
	for _, res := range result.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) == instanceID {
				return mapState(inst.State), nil
			}
		}
	}
	return cloud.InstanceStateUnknown, cloud.ErrInstanceNotFound
}

func mapState(state *ec2types.InstanceState) cloud.InstanceState {
	if state == nil {
		return cloud.InstanceStateUnknown
	}
	switch state.Name {
	case ec2types.InstanceStateNamePending:
		return cloud.InstanceStatePending
	case ec2types.InstanceStateNameRunning:
		return cloud.InstanceStateRunning
	case ec2types.InstanceStateNameStopping:
		return cloud.InstanceStateStopping
	case ec2types.InstanceStateNameStopped:
		return cloud.InstanceStateStopped
	case ec2types.InstanceStateNameShuttingDown:
		return cloud.InstanceStateShuttingDown
	case ec2types.InstanceStateNameTerminated:
		return cloud.InstanceStateTerminated
	default:
		return cloud.InstanceStateUnknown
	}
}

// mapError translates EC2 API error codes to the provider-error kinds the
// handlers act on. Transport errors never reach the API, so they carry no
// error code and are classified as transient.
func mapError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", cloud.ErrUnavailable, err)
	}
	code := apiErr.ErrorCode()
	switch {
	case strings.HasPrefix(code, "InvalidInstanceID"):
		return fmt.Errorf("%w: %s", cloud.ErrInstanceNotFound, apiErr.ErrorMessage())
	case code == "InstanceLimitExceeded" || code == "VcpuLimitExceeded" || code == "RequestLimitExceeded":
		return fmt.Errorf("%w: %s", cloud.ErrQuotaExceeded, apiErr.ErrorMessage())
	case code == "AuthFailure" || code == "UnauthorizedOperation":
		return fmt.Errorf("%w: %s", cloud.ErrAuthFailure, apiErr.ErrorMessage())
	default:
		return fmt.Errorf("%w: %s: %s", cloud.ErrInvalidParameter, code, apiErr.ErrorMessage())
	}
}
