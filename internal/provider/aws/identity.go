package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/cmdb/internal/pager"
	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

type identity struct {
	accountID string
	name      string
}

// resolveIdentity looks up the caller account and its alias. Any failure is
// fatal for the account.
func (a *Adapter) resolveIdentity(ctx context.Context) (identity, error) {
	op := opName("sts", "GetCallerIdentity", "")
	out, err := provider.Required(ctx, a.retry, op, paced(a, op, func(ctx context.Context) (*sts.GetCallerIdentityOutput, error) {
		return a.global.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	}))
	if err != nil {
		return identity{}, asConfiguration(op, err)
	}
	accountID := aws.ToString(out.Account)
	if accountID == "" {
		return identity{}, provider.Configuration(op, errors.New("empty account id"))
	}

	op = opName("iam", "ListAccountAliases", "")
	aliases, err := call(ctx, a, op, func(ctx context.Context) (*iam.ListAccountAliasesOutput, error) {
		return a.global.iam.ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
	})
	if err != nil {
		return identity{}, asConfiguration(op, err)
	}

	var alias string
	if len(aliases.AccountAliases) > 0 {
		alias = aliases.AccountAliases[0]
	}
	return identity{accountID: accountID, name: inventory.DisplayName(alias, accountID)}, nil
}

// listRegions returns the regions to crawl, once per crawl. A configured
// filter is intersected with the enabled regions.
func (a *Adapter) listRegions(ctx context.Context) ([]string, error) {
	op := opName("ec2", "DescribeRegions", "")
	out, err := call(ctx, a, op, func(ctx context.Context) (*ec2.DescribeRegionsOutput, error) {
		return a.global.ec2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	})
	if err != nil {
		return nil, asConfiguration(op, err)
	}

	wanted := make(map[string]bool, len(a.regions))
	for _, r := range a.regions {
		wanted[strings.TrimSpace(r)] = true
	}

	var regions []string
	for _, r := range out.Regions {
		name := aws.ToString(r.RegionName)
		if name == "" {
			continue
		}
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		regions = append(regions, name)
	}
	return sortedCopy(regions), nil
}

// accountTags reads the organization tags of the account. Best effort.
func (a *Adapter) accountTags(ctx context.Context, accountID string, elog *provider.ErrorLog) (map[string]string, error) {
	op := opName("organizations", "ListTagsForResource", "")
	tags := make(map[string]string)

	fetch := func(ctx context.Context, token *string) (pager.Page[string], error) {
		out, err := call(ctx, a, op, func(ctx context.Context) (*organizations.ListTagsForResourceOutput, error) {
			return a.global.org.ListTagsForResource(ctx, &organizations.ListTagsForResourceInput{
				ResourceId: aws.String(accountID),
				NextToken:  token,
			})
		})
		if err != nil {
			return pager.Page[string]{}, err
		}
		for _, t := range out.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		return pager.Page[string]{Next: out.NextToken}, nil
	}

	_, err := provider.Optional(ctx, elog, op, func(ctx context.Context) ([]string, error) {
		return pager.Collect(ctx, fetch)
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// asConfiguration makes a failed required call fatal, keeping cancellation
// as it is.
func asConfiguration(op string, err error) error {
	if provider.IsCancelled(err) || errors.Is(err, provider.ErrConfiguration) {
		return err
	}
	return provider.Configuration(op, err)
}
