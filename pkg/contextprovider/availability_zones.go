package contextprovider

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"
)

// AvailabilityZonesPlugin lists the available zones of a region, sorted by name.
// An empty region resolves to an empty list.
type AvailabilityZonesPlugin struct {
	sessions SessionProvider
	logger   zerolog.Logger
}

// NewAvailabilityZonesPlugin creates the plugin for KindAvailabilityZones.
func NewAvailabilityZonesPlugin(sessions SessionProvider, logger zerolog.Logger) *AvailabilityZonesPlugin {
	return &AvailabilityZonesPlugin{
		sessions: sessions,
		logger:   logger.With().Str("provider", KindAvailabilityZones).Logger(),
	}
}

// Kind implements Plugin.
func (p *AvailabilityZonesPlugin) Kind() string { return KindAvailabilityZones }

// RequiredParams implements Plugin.
func (p *AvailabilityZonesPlugin) RequiredParams() []string { return nil }

// Lookup implements Plugin.
func (p *AvailabilityZonesPlugin) Lookup(ctx context.Context, q Query) Result {
	p.logger.Debug().Msgf("Reading AZs for %s:%s", q.Account, q.Region)

	client, err := p.sessions.EC2(ctx, sessionRequest(q))
	if err != nil {
		return sessionFailure(q, err)
	}

	out, err := client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("state"),
			Values: []string{string(ec2types.AvailabilityZoneStateAvailable)},
		}},
	})
	if err != nil {
		return translateError(err, "")
	}

	zones := []string{}
	if out != nil {
		for _, az := range out.AvailabilityZones {
			if az.ZoneName != nil {
				zones = append(zones, *az.ZoneName)
			}
		}
	}
	sort.Strings(zones)
	p.logger.Debug().Msgf("Region %s:%s has availability zones %v", q.Account, q.Region, zones)
	return Success(zones)
}
