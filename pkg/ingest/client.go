// Package ingest pulls identity and policy data from the AWS control
// plane (or a saved authorization-details dump) and normalizes it into
// principal records.
package ingest

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/praetorian-inc/privmap/internal/logs"
	"github.com/praetorian-inc/privmap/pkg/fault"
)

// LoadConfig builds the AWS client configuration for a named profile.
// IAM is a global service, so the region is pinned. Credentials come from
// the shared config chain and are never logged; proxy settings are picked
// up from the environment by the SDK's default HTTP client.
func LoadConfig(ctx context.Context, profile string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion("us-east-1"),
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode(aws.RetryModeAdaptive),
		config.WithLogger(logs.SDKLogger()),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config for profile %q: %w", profile, err)
	}
	return cfg, nil
}

// CallerAccount resolves the account ID of the active credentials. A
// failure here is always fatal: without a valid identity nothing else can
// be fetched.
func CallerAccount(ctx context.Context, cfg aws.Config) (string, error) {
	client := sts.NewFromConfig(cfg)
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", &fault.AuthError{Operation: "sts:GetCallerIdentity", Err: err}
	}
	return aws.ToString(out.Account), nil
}

// NewIAMClient returns the IAM client used for live ingestion.
func NewIAMClient(cfg aws.Config) *iam.Client {
	return iam.NewFromConfig(cfg)
}
