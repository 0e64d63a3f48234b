package awsauth

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/openfroyo/synth/pkg/contextprovider"
)

func newTestProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	opts = append([]Option{
		WithLoadOptions(
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKID", "SECRET", "")),
		),
		WithAccountVerification(false),
	}, opts...)

	p, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestConfigIsScopedToRegion(t *testing.T) {
	p := newTestProvider(t)

	cfg, err := p.Config(context.Background(), contextprovider.SessionRequest{Account: "111", Region: "eu-west-1"})
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Region != "eu-west-1" {
		t.Errorf("expected eu-west-1, got %s", cfg.Region)
	}
	if p.base.Region != "us-east-1" {
		t.Errorf("base config must not be modified, got region %s", p.base.Region)
	}
}

func TestLookupRoleUsesAssumedCredentials(t *testing.T) {
	p := newTestProvider(t, WithSessionName("test-session"))
	req := contextprovider.SessionRequest{
		Account:       "222",
		Region:        "us-west-2",
		LookupRoleARN: "arn:aws:iam::222:role/lookup",
		Mode:          contextprovider.ForReading,
	}

	cfg, err := p.Config(context.Background(), req)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if _, ok := cfg.Credentials.(*aws.CredentialsCache); !ok {
		t.Errorf("expected cached assume-role credentials, got %T", cfg.Credentials)
	}

	plain, _ := p.Config(context.Background(), contextprovider.SessionRequest{Account: "222", Region: "us-west-2"})
	if _, ok := plain.Credentials.(*aws.CredentialsCache); ok && plain.Credentials == cfg.Credentials {
		t.Error("requests without a role must not share the assumed credentials")
	}
}

func TestConfigsAreReused(t *testing.T) {
	p := newTestProvider(t)
	req := contextprovider.SessionRequest{Account: "111", Region: "us-east-1", LookupRoleARN: "arn:aws:iam::111:role/r"}

	first, _ := p.Config(context.Background(), req)
	second, _ := p.Config(context.Background(), req)
	if first.Credentials != second.Credentials {
		t.Error("expected the same credentials for the same environment")
	}
	if len(p.configs) != 1 {
		t.Errorf("expected 1 cached config, got %d", len(p.configs))
	}
}

func TestClientsImplementLookupInterfaces(t *testing.T) {
	p := newTestProvider(t)
	var sessions contextprovider.SessionProvider = p

	req := contextprovider.SessionRequest{Account: "111", Region: "us-east-1"}
	if c, err := sessions.EC2(context.Background(), req); err != nil || c == nil {
		t.Errorf("EC2: %v", err)
	}
	if c, err := sessions.SSM(context.Background(), req); err != nil || c == nil {
		t.Errorf("SSM: %v", err)
	}
}

func TestRegionRequired(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.Config(context.Background(), contextprovider.SessionRequest{Account: "111"}); err == nil {
		t.Error("expected error for missing region")
	}
}
