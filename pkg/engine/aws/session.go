// Package aws wraps the AWS SDK calls the detector makes outside the object
// store: credential/identity checks and trail lookups.
package aws

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/awsnare/awsnare/pkg/version"
)

// IdentityAPI is the STS subset used to resolve the caller's account.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Client encapsulates AWS SDK usage, handling authentication, region resolution, and middleware injection.
type Client struct {
	Config aws.Config
	STS    IdentityAPI
}

// NewClient initializes a new authenticated AWS client. With verbose set,
// every API operation is logged at debug level.
func NewClient(ctx context.Context, region, profile string, verbose bool, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	// Local endpoint overrides (LocalStack, MinIO).
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	cfg.APIOptions = append(cfg.APIOptions, userAgent)

	if verbose {
		cfg.APIOptions = append(cfg.APIOptions, func(stack *middleware.Stack) error {
			return stack.Initialize.Add(middleware.InitializeMiddlewareFunc("CallLogger", func(ctx context.Context, input middleware.InitializeInput, next middleware.InitializeHandler) (
				middleware.InitializeOutput, middleware.Metadata, error,
			) {
				logger.Debug("AWS API call",
					"service", middleware.GetServiceID(ctx),
					"operation", middleware.GetOperationName(ctx))
				return next.HandleInitialize(ctx, input)
			}), middleware.Before)
		})
	}

	return &Client{
		Config: cfg,
		STS:    sts.NewFromConfig(cfg),
	}, nil
}

// userAgent tags every request so trail owners can tell detector reads apart
// from an intruder's in their own logs.
func userAgent(stack *middleware.Stack) error {
	return stack.Build.Add(middleware.BuildMiddlewareFunc("AWSnareUserAgent", func(ctx context.Context, input middleware.BuildInput, next middleware.BuildHandler) (
		middleware.BuildOutput, middleware.Metadata, error,
	) {
		if req, ok := input.Request.(*smithyhttp.Request); ok {
			ua := req.Header.Get("User-Agent")
			req.Header.Set("User-Agent", fmt.Sprintf("%s %s/%s", ua, version.AppName, version.Current))
		}
		return next.HandleBuild(ctx, input)
	}), middleware.After)
}

// VerifyIdentity validates the session credentials and retrieves the canonical Account ID.
func (c *Client) VerifyIdentity(ctx context.Context) (string, error) {
	result, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(result.Account), nil
}

// GetConfigForRegion returns a regional configuration copy.
// Use this for buckets or trails homed in a region other than the default.
func (c *Client) GetConfigForRegion(region string) aws.Config {
	cfg := c.Config.Copy()
	if region != "" {
		cfg.Region = region
	}
	return cfg
}
