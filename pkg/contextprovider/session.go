package contextprovider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Mode is the access level a session is scoped to.
type Mode int

const (
	// ForReading requests read-only credentials. Every lookup uses this mode.
	ForReading Mode = iota
	// ForWriting requests deployment credentials.
	ForWriting
)

func (m Mode) String() string {
	if m == ForWriting {
		return "write"
	}
	return "read"
}

// SessionRequest identifies the environment a client is scoped to.
type SessionRequest struct {
	Account       string
	Region        string
	LookupRoleARN string
	Mode          Mode
}

// EC2API is the subset of the EC2 client used by lookups.
type EC2API interface {
	DescribeVpcEndpointServices(ctx context.Context, in *ec2.DescribeVpcEndpointServicesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcEndpointServicesOutput, error)
	DescribeAvailabilityZones(ctx context.Context, in *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
}

// SSMAPI is the subset of the SSM client used by lookups.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SessionProvider hands out clients scoped to one environment and one service.
// Implementations own credential resolution and role assumption.
type SessionProvider interface {
	EC2(ctx context.Context, req SessionRequest) (EC2API, error)
	SSM(ctx context.Context, req SessionRequest) (SSMAPI, error)
}

func sessionRequest(q Query) SessionRequest {
	return SessionRequest{
		Account:       q.Account,
		Region:        q.Region,
		LookupRoleARN: q.LookupRoleARN,
		Mode:          ForReading,
	}
}
