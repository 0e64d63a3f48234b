// Package awsauth hands out AWS clients scoped to one account, region and
// optional lookup role.
package awsauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	"github.com/openfroyo/synth/pkg/contextprovider"
)

// DefaultSessionName is the role session name used when assuming lookup roles.
const DefaultSessionName = "synth-lookup"

// Provider implements contextprovider.SessionProvider on top of the default
// AWS credential chain. Configs are built once per environment and reused.
type Provider struct {
	base          aws.Config
	sessionName   string
	externalID    string
	verifyAccount bool
	logger        zerolog.Logger

	mu       sync.Mutex
	configs  map[environment]aws.Config
	accounts map[string]string
}

type environment struct {
	account string
	region  string
	role    string
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	loadOptions   []func(*config.LoadOptions) error
	sessionName   string
	externalID    string
	verifyAccount bool
	logger        zerolog.Logger
}

// WithProfile selects a shared config profile.
func WithProfile(profile string) Option {
	return func(o *options) {
		if profile != "" {
			o.loadOptions = append(o.loadOptions, config.WithSharedConfigProfile(profile))
		}
	}
}

// WithLoadOptions passes raw options to config.LoadDefaultConfig.
func WithLoadOptions(opts ...func(*config.LoadOptions) error) Option {
	return func(o *options) {
		o.loadOptions = append(o.loadOptions, opts...)
	}
}

// WithSessionName sets the role session name for assumed lookup roles.
func WithSessionName(name string) Option {
	return func(o *options) { o.sessionName = name }
}

// WithExternalID sets the external id passed when assuming lookup roles.
func WithExternalID(id string) Option {
	return func(o *options) { o.externalID = id }
}

// WithAccountVerification checks, for requests without a lookup role, that the
// ambient credentials belong to the requested account.
func WithAccountVerification(enabled bool) Option {
	return func(o *options) { o.verifyAccount = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New loads the default AWS configuration.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	o := options{
		sessionName:   DefaultSessionName,
		verifyAccount: true,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := config.LoadDefaultConfig(ctx, o.loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &Provider{
		base:          base,
		sessionName:   o.sessionName,
		externalID:    o.externalID,
		verifyAccount: o.verifyAccount,
		logger:        o.logger.With().Str("component", "awsauth").Logger(),
		configs:       make(map[environment]aws.Config),
		accounts:      make(map[string]string),
	}, nil
}

// EC2 implements contextprovider.SessionProvider.
func (p *Provider) EC2(ctx context.Context, req contextprovider.SessionRequest) (contextprovider.EC2API, error) {
	cfg, err := p.configFor(ctx, req)
	if err != nil {
		return nil, err
	}
	return ec2.NewFromConfig(cfg), nil
}

// SSM implements contextprovider.SessionProvider.
func (p *Provider) SSM(ctx context.Context, req contextprovider.SessionRequest) (contextprovider.SSMAPI, error) {
	cfg, err := p.configFor(ctx, req)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(cfg), nil
}

// Config returns the aws.Config used for req.
func (p *Provider) Config(ctx context.Context, req contextprovider.SessionRequest) (aws.Config, error) {
	return p.configFor(ctx, req)
}

func (p *Provider) configFor(ctx context.Context, req contextprovider.SessionRequest) (aws.Config, error) {
	if req.Region == "" {
		return aws.Config{}, fmt.Errorf("region is required")
	}

	env := environment{account: req.Account, region: req.Region, role: req.LookupRoleARN}

	p.mu.Lock()
	cfg, ok := p.configs[env]
	p.mu.Unlock()
	if ok {
		return cfg, nil
	}

	cfg = p.base.Copy()
	cfg.Region = req.Region

	if req.LookupRoleARN != "" {
		p.logger.Debug().
			Str("account", req.Account).
			Str("region", req.Region).
			Str("role", req.LookupRoleARN).
			Str("mode", req.Mode.String()).
			Msg("Assuming lookup role")

		assume := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), req.LookupRoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = p.sessionName
				if p.externalID != "" {
					o.ExternalID = aws.String(p.externalID)
				}
			})
		cfg.Credentials = aws.NewCredentialsCache(assume)
	} else if p.verifyAccount && req.Account != "" {
		if err := p.checkAccount(ctx, cfg, req.Account); err != nil {
			return aws.Config{}, err
		}
	}

	p.mu.Lock()
	p.configs[env] = cfg
	p.mu.Unlock()
	return cfg, nil
}

// checkAccount resolves the account of the ambient credentials once and
// compares it with the requested one.
func (p *Provider) checkAccount(ctx context.Context, cfg aws.Config, want string) error {
	p.mu.Lock()
	got, ok := p.accounts[cfg.Region]
	p.mu.Unlock()

	if !ok {
		out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return fmt.Errorf("failed to determine current account: %w", err)
		}
		got = aws.ToString(out.Account)

		p.mu.Lock()
		p.accounts[cfg.Region] = got
		p.mu.Unlock()
	}

	if got != want {
		return fmt.Errorf("need credentials for account %s, but current credentials are for %s; "+
			"configure a lookup role", want, got)
	}
	return nil
}
