// Package aws implements the AWS provider adapter.
package aws

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/time/rate"

	"github.com/yairfalse/cmdb/internal/provider"
)

const (
	// DefaultHomeRegion is where account-wide calls are made.
	DefaultHomeRegion = "eu-west-1"

	pricingRegion  = "us-east-1"
	dataCentreType = "Aws"
)

// Config holds AWS adapter configuration for one account.
type Config struct {
	// Name is the registry name of the adapter.
	Name string

	// Static credentials. When empty the default credential chain is used,
	// optionally with Profile.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string

	// Separate credentials for the organization management account.
	OrgAccessKeyID     string
	OrgSecretAccessKey string

	HomeRegion string
	// Regions restricts the crawl. Empty means every enabled region.
	Regions []string

	Concurrency        int
	RequestsPerSecond  float64
	Retry              provider.RetryPolicy
	ErrorDir           string
	StoppedSinceLookup bool
}

// Adapter crawls one AWS account.
type Adapter struct {
	name       string
	regions    []string
	retry      provider.RetryPolicy
	limiter    *rate.Limiter
	workers    int
	errorDir   string
	lookupStop bool
	now        func() time.Time

	global globalClients

	mu        sync.Mutex
	regional  map[string]*regionClients
	newRegion func(region string) *regionClients
}

// New creates an AWS adapter. Credentials are resolved here; no API call is
// made until GetAccount.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	home := cfg.HomeRegion
	if home == "" {
		home = DefaultHomeRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(home)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	} else if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, provider.Configuration("load aws config", err)
	}

	orgCfg := awsCfg
	if cfg.OrgAccessKeyID != "" && cfg.OrgSecretAccessKey != "" {
		orgCfg = awsCfg.Copy()
		orgCfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.OrgAccessKeyID, cfg.OrgSecretAccessKey, ""))
	}

	a := newAdapter(cfg)
	a.global = globalClients{
		sts: sts.NewFromConfig(awsCfg),
		iam: iam.NewFromConfig(awsCfg),
		ec2: ec2.NewFromConfig(awsCfg),
		org: organizations.NewFromConfig(orgCfg),
		pricing: pricing.NewFromConfig(awsCfg, func(o *pricing.Options) {
			o.Region = pricingRegion
		}),
		s3: s3.NewFromConfig(awsCfg),
	}
	a.newRegion = func(region string) *regionClients {
		rc := awsCfg.Copy()
		rc.Region = region
		return &regionClients{
			ec2:        ec2.NewFromConfig(rc),
			ssm:        ssm.NewFromConfig(rc),
			cloudtrail: cloudtrail.NewFromConfig(rc),
			rds:        rds.NewFromConfig(rc),
			cloudwatch: cloudwatch.NewFromConfig(rc),
			redshift:   redshift.NewFromConfig(rc),
			memorydb:   memorydb.NewFromConfig(rc),
			lambda:     lambda.NewFromConfig(rc),
			dynamodb:   dynamodb.NewFromConfig(rc),
			restAPI:    apigateway.NewFromConfig(rc),
			httpAPI:    apigatewayv2.NewFromConfig(rc),
			ecs:        ecs.NewFromConfig(rc),
			eks:        eks.NewFromConfig(rc),
		}
	}
	return a, nil
}

func newAdapter(cfg Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = "aws"
	}
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Adapter{
		name:       name,
		regions:    cfg.Regions,
		retry:      cfg.Retry,
		limiter:    rate.NewLimiter(limit, 1),
		workers:    workers,
		errorDir:   cfg.ErrorDir,
		lookupStop: cfg.StoppedSinceLookup,
		now:        time.Now,
		regional:   make(map[string]*regionClients),
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) clients(region string) *regionClients {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.regional[region]; ok {
		return c
	}
	c := a.newRegion(region)
	a.regional[region] = c
	return c
}

// paced wraps one SDK call with the adapter limiter and error
// classification.
func paced[T any](a *Adapter, op string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var zero T
		if err := a.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		out, err := fn(ctx)
		if err != nil {
			return out, classify(op, err)
		}
		return out, nil
	}
}

// call runs one paced SDK call under the adapter retry policy.
func call[T any](ctx context.Context, a *Adapter, op string, fn func(context.Context) (T, error)) (T, error) {
	return provider.Retry(ctx, a.retry, op, paced(a, op, fn))
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func opName(service, operation, region string) string {
	if region == "" {
		return fmt.Sprintf("%s:%s", service, operation)
	}
	return fmt.Sprintf("%s:%s[%s]", service, operation, region)
}
