package contextprovider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/rs/zerolog"
)

// EndpointServiceAZPlugin returns the availability zones a VPC endpoint
// service is offered in. A service with no details resolves to an empty list,
// not an error.
type EndpointServiceAZPlugin struct {
	sessions SessionProvider
	logger   zerolog.Logger
}

// NewEndpointServiceAZPlugin creates the plugin for KindEndpointServiceAZs.
func NewEndpointServiceAZPlugin(sessions SessionProvider, logger zerolog.Logger) *EndpointServiceAZPlugin {
	return &EndpointServiceAZPlugin{
		sessions: sessions,
		logger:   logger.With().Str("provider", KindEndpointServiceAZs).Logger(),
	}
}

// Kind implements Plugin.
func (p *EndpointServiceAZPlugin) Kind() string { return KindEndpointServiceAZs }

// RequiredParams implements Plugin.
func (p *EndpointServiceAZPlugin) RequiredParams() []string {
	return []string{ParamServiceName}
}

// Lookup implements Plugin.
func (p *EndpointServiceAZPlugin) Lookup(ctx context.Context, q Query) Result {
	service, ok := q.Param(ParamServiceName)
	if !ok {
		return ConfigurationError("serviceName must be provided for the endpoint service context provider")
	}
	p.logger.Debug().Msgf("Reading AZs for %s:%s:%s", q.Account, q.Region, service)

	client, err := p.sessions.EC2(ctx, sessionRequest(q))
	if err != nil {
		return sessionFailure(q, err)
	}

	out, err := client.DescribeVpcEndpointServices(ctx, &ec2.DescribeVpcEndpointServicesInput{
		ServiceNames: []string{service},
	})
	if err != nil {
		return translateError(err, "").withResource(service)
	}

	if out == nil || len(out.ServiceDetails) == 0 {
		p.logger.Debug().Msgf("Could not retrieve service details for %s:%s:%s", q.Account, q.Region, service)
		return Success([]string{})
	}

	azs := append([]string{}, out.ServiceDetails[0].AvailabilityZones...)
	p.logger.Debug().Msgf("Endpoint service %s:%s:%s is available in availability zones %v",
		q.Account, q.Region, service, azs)
	return Success(azs)
}
