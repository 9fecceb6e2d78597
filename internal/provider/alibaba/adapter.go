// Package alibaba implements the Alibaba Cloud provider adapter.
package alibaba

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/ecs"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/ram"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/sts"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/yairfalse/cmdb/internal/pager"
	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

const (
	// DefaultHomeRegion is where account-wide calls are made.
	DefaultHomeRegion = "eu-west-1"

	dataCentreType = "Alibaba"
	pageSize       = 100
	userPageSize   = 100
	creationLayout = "2006-01-02T15:04Z"
)

var tracer = otel.Tracer("github.com/yairfalse/cmdb/internal/provider/alibaba")

// Config holds Alibaba adapter configuration for one account.
type Config struct {
	Name              string
	AccessKeyID       string
	AccessKeySecret   string
	HomeRegion        string
	Regions           []string
	RequestsPerSecond float64
	Retry             provider.RetryPolicy
	ErrorDir          string
}

// Adapter crawls one Alibaba Cloud account.
type Adapter struct {
	name     string
	home     clientProfile
	regions  []string
	retry    provider.RetryPolicy
	limiter  *rate.Limiter
	errorDir string
	now      func() time.Time
	clients  clientFactory
}

// New creates an Alibaba adapter. No API call is made until GetAccount.
func New(cfg Config) (*Adapter, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, provider.Configuration("alibaba config", errors.New("access key id and secret are required"))
	}
	a := newAdapter(cfg)
	a.clients = sdkClients()
	return a, nil
}

func newAdapter(cfg Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = "alibaba"
	}
	home := cfg.HomeRegion
	if home == "" {
		home = DefaultHomeRegion
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Adapter{
		name:     name,
		home:     clientProfile{region: home, accessKeyID: cfg.AccessKeyID, accessKeySecret: cfg.AccessKeySecret},
		regions:  cfg.Regions,
		retry:    cfg.Retry,
		limiter:  rate.NewLimiter(limit, 1),
		errorDir: cfg.ErrorDir,
		now:      time.Now,
	}
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string {
	return a.name
}

// GetAccount crawls the whole account. Identity, region and instance listing
// failures are fatal; users degrade to empty.
func (a *Adapter) GetAccount(ctx context.Context) (*inventory.Account, error) {
	ctx, span := tracer.Start(ctx, "alibaba.GetAccount")
	defer span.End()

	acc, err := a.getAccount(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("account_id", acc.AccountID),
		attribute.Int("servers", acc.ServerCount()),
	)
	return acc, nil
}

func (a *Adapter) getAccount(ctx context.Context) (*inventory.Account, error) {
	elog := provider.NewErrorLog(a.errorDir, "")
	defer elog.Close()

	accountID, err := a.accountID(ctx)
	if err != nil {
		return nil, err
	}
	elog.SetAccount(accountID)

	alias, err := provider.Optional(ctx, elog, "ram:GetAccountAlias", a.accountAlias)
	if err != nil {
		return nil, err
	}
	name := inventory.DisplayName(alias, accountID)

	regions, err := a.listRegions(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Str("adapter", a.name).Str("account", name).Int("regions", len(regions)).Msg("crawling account")

	acc := inventory.NewAccount(accountID, name, dataCentreType)

	acc.Users, err = provider.Optional(ctx, elog, "ram:ListUsers", func(ctx context.Context) ([]inventory.CloudUser, error) {
		return a.users(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("account", name).Str("kind", "users").Int("count", len(acc.Users)).Msg("crawled")
	log.Debug().Str("account", name).Msg("database lookup not supported for alibaba")

	for _, region := range regions {
		servers, err := a.instances(ctx, accountID, region)
		if err != nil {
			return nil, fmt.Errorf("crawl instances in %s: %w", region, err)
		}
		log.Info().Str("account", name).Str("region", region).Str("kind", "instances").Int("count", len(servers)).Msg("crawled")
		if len(servers) == 0 {
			continue
		}
		acc.ServerGroups = append(acc.ServerGroups, inventory.ServerGroup{
			AccountID: accountID,
			GroupID:   region,
			GroupName: fmt.Sprintf("%s %s", name, region),
			Region:    region,
			Servers:   servers,
		})
	}
	return acc, nil
}

func (a *Adapter) accountID(ctx context.Context) (string, error) {
	op := "sts:GetCallerIdentity"
	out, err := provider.Required(ctx, a.retry, op, paced(a, op, func() (*sts.GetCallerIdentityResponse, error) {
		client, err := a.clients.sts(a.home)
		if err != nil {
			return nil, provider.Configuration(op, err)
		}
		req := sts.CreateGetCallerIdentityRequest()
		req.Scheme = requests.HTTPS
		return client.GetCallerIdentity(req)
	}))
	if err != nil {
		return "", asConfiguration(op, err)
	}
	if out.AccountId == "" {
		return "", provider.Configuration(op, errors.New("empty account id"))
	}
	return out.AccountId, nil
}

func (a *Adapter) accountAlias(ctx context.Context) (string, error) {
	op := "ram:GetAccountAlias"
	out, err := call(ctx, a, op, func() (*ram.GetAccountAliasResponse, error) {
		client, err := a.clients.ram(a.home)
		if err != nil {
			return nil, provider.Configuration(op, err)
		}
		req := ram.CreateGetAccountAliasRequest()
		req.Scheme = requests.HTTPS
		return client.GetAccountAlias(req)
	})
	if err != nil {
		return "", err
	}
	return out.AccountAlias, nil
}

func (a *Adapter) listRegions(ctx context.Context) ([]string, error) {
	op := "ecs:DescribeRegions"
	out, err := call(ctx, a, op, func() (*ecs.DescribeRegionsResponse, error) {
		client, err := a.clients.ecs(a.home)
		if err != nil {
			return nil, provider.Configuration(op, err)
		}
		req := ecs.CreateDescribeRegionsRequest()
		req.Scheme = requests.HTTPS
		return client.DescribeRegions(req)
	})
	if err != nil {
		return nil, asConfiguration(op, err)
	}

	wanted := make(map[string]bool, len(a.regions))
	for _, r := range a.regions {
		wanted[strings.TrimSpace(r)] = true
	}
	var regions []string
	for _, r := range out.Regions.Region {
		if r.RegionId == "" || (len(wanted) > 0 && !wanted[r.RegionId]) {
			continue
		}
		regions = append(regions, r.RegionId)
	}
	sort.Strings(regions)
	return regions, nil
}

// instances lists the ECS instances of one region page by page. The
// continuation token is the next page number.
func (a *Adapter) instances(ctx context.Context, accountID, region string) ([]inventory.ServerDetails, error) {
	op := fmt.Sprintf("ecs:DescribeInstances[%s]", region)
	client, err := a.clients.ecs(a.home.inRegion(region))
	if err != nil {
		return nil, provider.Configuration(op, err)
	}

	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[ecs.Instance], error) {
		page := 1
		if token != nil {
			page, _ = strconv.Atoi(*token)
		}
		out, err := call(ctx, a, op, func() (*ecs.DescribeInstancesResponse, error) {
			req := ecs.CreateDescribeInstancesRequest()
			req.Scheme = requests.HTTPS
			req.PageNumber = requests.NewInteger(page)
			req.PageSize = requests.NewInteger(pageSize)
			return client.DescribeInstances(req)
		})
		if err != nil {
			return pager.Page[ecs.Instance]{}, err
		}
		items := out.Instances.Instance
		var next *string
		if len(items) > 0 && page*pageSize < out.TotalCount {
			n := strconv.Itoa(page + 1)
			next = &n
		}
		return pager.Page[ecs.Instance]{Items: items, Next: next}, nil
	})
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	servers := make([]inventory.ServerDetails, 0, len(raw))
	for _, inst := range raw {
		servers = append(servers, convertInstance(inst, accountID, region, now))
	}
	return servers, nil
}

func convertInstance(inst ecs.Instance, accountID, region string, now time.Time) inventory.ServerDetails {
	status := strings.ToLower(inst.Status)
	// DescribeInstances reports no stop time, so a stopped instance is unknown.
	stopped := inventory.DeriveStopped(status, "", now)

	tags := make(map[string]string, len(inst.Tags.Tag))
	for _, t := range inst.Tags.Tag {
		tags[t.TagKey] = t.TagValue
	}

	nets := make([]inventory.IPv4Network, 0, len(inst.NetworkInterfaces.NetworkInterface))
	for _, ni := range inst.NetworkInterfaces.NetworkInterface {
		nets = append(nets, inventory.IPv4Network{Name: ni.NetworkInterfaceId, IPAddress: ni.PrimaryIpAddress})
	}

	return inventory.ServerDetails{
		Scope: inventory.Scope{
			AccountID: accountID,
			Region:    region,
			CloudType: inventory.CloudAlibaba,
		},
		ID:               inst.InstanceId,
		Name:             inst.InstanceName,
		Flavour:          inst.InstanceType,
		CPU:              inst.Cpu,
		RAM:              float64(inst.Memory) / 1024,
		Tags:             tags,
		Status:           status,
		Created:          parseTime(creationLayout, inst.CreationTime),
		StoppedFor30Days: stopped.For30,
		StoppedFor90Days: stopped.For90,
		ImageID:          inst.ImageId,
		ImageName:        inst.OSNameEn,
		Platform:         inventory.UnknownPlatform,
		AvailabilityZone: inst.ZoneId,
		DataCentreType:   dataCentreType,
		IPv4Networks:     nets,
	}
}

// users lists RAM users. Users are global, their region is empty.
func (a *Adapter) users(ctx context.Context, accountID string) ([]inventory.CloudUser, error) {
	op := "ram:ListUsers"
	client, err := a.clients.ram(a.home)
	if err != nil {
		return nil, provider.Configuration(op, err)
	}

	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[ram.User], error) {
		out, err := call(ctx, a, op, func() (*ram.ListUsersResponse, error) {
			req := ram.CreateListUsersRequest()
			req.Scheme = requests.HTTPS
			req.MaxItems = requests.NewInteger(userPageSize)
			if token != nil {
				req.Marker = *token
			}
			return client.ListUsers(req)
		})
		if err != nil {
			return pager.Page[ram.User]{}, err
		}
		var next *string
		if out.IsTruncated && out.Marker != "" {
			next = &out.Marker
		}
		return pager.Page[ram.User]{Items: out.Users.User, Next: next}, nil
	})
	if err != nil {
		return nil, err
	}

	users := make([]inventory.CloudUser, 0, len(raw))
	for _, u := range raw {
		users = append(users, inventory.CloudUser{
			Scope:      inventory.Scope{AccountID: accountID, CloudType: inventory.CloudAlibaba},
			ID:         u.UserId,
			User:       u.UserName,
			Email:      u.Email,
			CreateDate: parseTime(time.RFC3339, u.CreateDate),
			UpdateDate: parseTime(time.RFC3339, u.UpdateDate),
		})
	}
	return users, nil
}

// paced wraps one SDK call with the limiter and error classification. The
// SDK takes no context, so cancellation is checked before each call.
func paced[T any](a *Adapter, op string, fn func() (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var zero T
		if err := a.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		out, err := fn()
		if err != nil {
			return zero, classify(op, err)
		}
		return out, nil
	}
}

func call[T any](ctx context.Context, a *Adapter, op string, fn func() (T, error)) (T, error) {
	return provider.Retry(ctx, a.retry, op, paced(a, op, fn))
}

func asConfiguration(op string, err error) error {
	if provider.IsCancelled(err) || errors.Is(err, provider.ErrConfiguration) {
		return err
	}
	return provider.Configuration(op, err)
}

func parseTime(layout, s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
