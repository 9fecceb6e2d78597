package daemon

import (
	"context"
	"fmt"

	"github.com/yairfalse/cmdb/internal/config"
	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/internal/provider/alibaba"
	"github.com/yairfalse/cmdb/internal/provider/aws"
)

// BuildAdapters creates one adapter per configured account and registers it,
// replacing whatever was registered before. It returns the adapters named in
// only, in that order, or every adapter in configuration order when only is
// empty.
func BuildAdapters(ctx context.Context, cfg *config.Config, only ...string) ([]provider.Adapter, error) {
	retry := provider.RetryPolicy{
		Attempts: cfg.Crawl.RetryAttempts,
		Delay:    cfg.Crawl.RetryDelay,
	}

	provider.Clear()
	adapters := make([]provider.Adapter, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		a, err := buildAdapter(ctx, acc, cfg.Crawl, retry)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acc.Name, err)
		}
		provider.Register(a)
		adapters = append(adapters, a)
	}
	if len(only) > 0 {
		return provider.Select(only...)
	}
	return adapters, nil
}

func buildAdapter(ctx context.Context, acc config.AccountConfig, crawl config.CrawlConfig, retry provider.RetryPolicy) (provider.Adapter, error) {
	switch acc.Type {
	case config.TypeAWS:
		return aws.New(ctx, aws.Config{
			Name:               acc.Name,
			AccessKeyID:        acc.AccessKeyID,
			SecretAccessKey:    acc.AccessKeySecret,
			SessionToken:       acc.SessionToken,
			Profile:            acc.Profile,
			OrgAccessKeyID:     acc.OrgAccessKeyID,
			OrgSecretAccessKey: acc.OrgAccessKeySecret,
			HomeRegion:         acc.HomeRegion,
			Regions:            acc.Regions,
			Concurrency:        acc.Concurrency,
			RequestsPerSecond:  crawl.RequestsPerSecond,
			Retry:              retry,
			ErrorDir:           crawl.ErrorDir,
			StoppedSinceLookup: crawl.StoppedSinceLookup,
		})
	case config.TypeAlibaba:
		return alibaba.New(alibaba.Config{
			Name:              acc.Name,
			AccessKeyID:       acc.AccessKeyID,
			AccessKeySecret:   acc.AccessKeySecret,
			HomeRegion:        acc.HomeRegion,
			Regions:           acc.Regions,
			RequestsPerSecond: crawl.RequestsPerSecond,
			Retry:             retry,
			ErrorDir:          crawl.ErrorDir,
		})
	default:
		return nil, provider.Configuration("build adapter", fmt.Errorf("unknown account type %q", acc.Type))
	}
}
