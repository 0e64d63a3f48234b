package contextprovider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// fakeSessions hands out the same fake clients for every request and records
// the requests it saw.
type fakeSessions struct {
	ec2 *fakeEC2
	ssm *fakeSSM
	err error

	mu       sync.Mutex
	requests []SessionRequest
}

func (f *fakeSessions) record(req SessionRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeSessions) EC2(_ context.Context, req SessionRequest) (EC2API, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	if f.ec2 == nil {
		return nil, errors.New("no ec2 client")
	}
	return f.ec2, nil
}

func (f *fakeSessions) SSM(_ context.Context, req SessionRequest) (SSMAPI, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	if f.ssm == nil {
		return nil, errors.New("no ssm client")
	}
	return f.ssm, nil
}

type fakeEC2 struct {
	endpointOut *ec2.DescribeVpcEndpointServicesOutput
	zonesOut    *ec2.DescribeAvailabilityZonesOutput
	err         error

	endpointCalls atomic.Int32
	zoneCalls     atomic.Int32
	lastServices  []string
}

func (f *fakeEC2) DescribeVpcEndpointServices(_ context.Context, in *ec2.DescribeVpcEndpointServicesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcEndpointServicesOutput, error) {
	f.endpointCalls.Add(1)
	f.lastServices = in.ServiceNames
	return f.endpointOut, f.err
}

func (f *fakeEC2) DescribeAvailabilityZones(_ context.Context, _ *ec2.DescribeAvailabilityZonesInput, _ ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error) {
	f.zoneCalls.Add(1)
	return f.zonesOut, f.err
}

type fakeSSM struct {
	values map[string]string
	err    error
	calls  atomic.Int32
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParameterOutput{}
	if v, ok := f.values[*in.Name]; ok {
		out.Parameter = ssmParameter(*in.Name, v)
	}
	return out, nil
}

// countingPlugin counts lookups and optionally blocks until released.
type countingPlugin struct {
	kind     string
	required []string
	result   Result
	release  chan struct{}
	calls    atomic.Int32
}

func (p *countingPlugin) Kind() string             { return p.kind }
func (p *countingPlugin) RequiredParams() []string { return p.required }

func (p *countingPlugin) Lookup(ctx context.Context, q Query) Result {
	p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	return p.result
}

// stallOncePlugin blocks its first lookup until ctx ends and answers later
// lookups immediately.
type stallOncePlugin struct {
	calls atomic.Int32
}

func (p *stallOncePlugin) Kind() string             { return "stall" }
func (p *stallOncePlugin) RequiredParams() []string { return nil }

func (p *stallOncePlugin) Lookup(ctx context.Context, q Query) Result {
	if p.calls.Add(1) == 1 {
		<-ctx.Done()
		return translateError(ctx.Err(), "")
	}
	return Success("ready")
}
