package contextprovider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
)

// SSMParameterPlugin reads a single SSM parameter value. A missing parameter
// is NotFound; it is never turned into an empty value.
type SSMParameterPlugin struct {
	sessions SessionProvider
	logger   zerolog.Logger
}

// NewSSMParameterPlugin creates the plugin for KindSSMParameter.
func NewSSMParameterPlugin(sessions SessionProvider, logger zerolog.Logger) *SSMParameterPlugin {
	return &SSMParameterPlugin{
		sessions: sessions,
		logger:   logger.With().Str("provider", KindSSMParameter).Logger(),
	}
}

// Kind implements Plugin.
func (p *SSMParameterPlugin) Kind() string { return KindSSMParameter }

// RequiredParams implements Plugin.
func (p *SSMParameterPlugin) RequiredParams() []string {
	return []string{ParamParameterName}
}

// Lookup implements Plugin.
func (p *SSMParameterPlugin) Lookup(ctx context.Context, q Query) Result {
	name, ok := q.Param(ParamParameterName)
	if !ok {
		return ConfigurationError("parameterName must be provided for the ssm context provider")
	}
	p.logger.Debug().Msgf("Reading SSM parameter %s:%s:%s", q.Account, q.Region, name)

	client, err := p.sessions.SSM(ctx, sessionRequest(q))
	if err != nil {
		return sessionFailure(q, err)
	}

	absent := fmt.Sprintf("SSM parameter not available in account %s, region %s: %s", q.Account, q.Region, name)

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name)})
	if err != nil {
		return translateError(err, absent, "ParameterNotFound").withResource(name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return NotFound(absent).withResource(name)
	}
	return Success(aws.ToString(out.Parameter.Value))
}
