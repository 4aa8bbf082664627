package wafv2

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/ratelimit"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"
)

// WebACLAPI is the subset of the WAFv2 client used by Deploy.
type WebACLAPI interface {
	CreateWebACL(ctx context.Context, params *wafv2.CreateWebACLInput, optFns ...func(*wafv2.Options)) (*wafv2.CreateWebACLOutput, error)
}

// Deployment identifies a created web ACL.
type Deployment struct {
	ID        string
	ARN       string
	LockToken string
}

// retryTokens bounds retries across a burst of failing calls; each retry
// costs retry.DefaultRetryCost tokens.
const retryTokens = 100

func newRetryer() aws.Retryer {
	return retry.NewStandard(func(o *retry.StandardOptions) {
		o.MaxAttempts = 5
		o.MaxBackoff = 30 * time.Second
		o.Backoff = retry.NewExponentialJitterBackoff(o.MaxBackoff)
		o.RateLimiter = ratelimit.NewTokenRateLimit(retryTokens)
	})
}

// NewClient builds a WAFv2 client from the default credential chain.
func NewClient(ctx context.Context, region string) (*wafv2.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	retryer := newRetryer()
	return wafv2.NewFromConfig(cfg, func(o *wafv2.Options) { o.Retryer = retryer }), nil
}

// Deploy creates the web ACL described by input.
func Deploy(ctx context.Context, api WebACLAPI, input *wafv2.CreateWebACLInput) (*Deployment, error) {
	out, err := api.CreateWebACL(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create web ACL %s: %w", aws.ToString(input.Name), err)
	}
	d := &Deployment{}
	if out.Summary != nil {
		d.ID = aws.ToString(out.Summary.Id)
		d.ARN = aws.ToString(out.Summary.ARN)
		d.LockToken = aws.ToString(out.Summary.LockToken)
	}
	return d, nil
}
