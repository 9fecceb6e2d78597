package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

var tracer = otel.Tracer("github.com/yairfalse/cmdb/internal/provider/aws")

// crawl is the state of one GetAccount call.
type crawl struct {
	a           *Adapter
	accountID   string
	accountName string
	elog        *provider.ErrorLog
	now         time.Time
}

func (c *crawl) scope(region string) inventory.Scope {
	return inventory.Scope{AccountID: c.accountID, Region: region, CloudType: inventory.CloudAWS}
}

// unit is one region x kind crawl. It writes only into its own part.
type unit struct {
	kind     string
	region   string
	required bool
	run      func(ctx context.Context, part *inventory.Account) (int, error)
}

// GetAccount crawls the whole account. Identity, region and instance listing
// failures are fatal; every other kind degrades to empty.
func (a *Adapter) GetAccount(ctx context.Context) (*inventory.Account, error) {
	ctx, span := tracer.Start(ctx, "aws.GetAccount", trace.WithAttributes(attribute.String("adapter", a.name)))
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
	id, err := a.resolveIdentity(ctx)
	if err != nil {
		return nil, err
	}
	regions, err := a.listRegions(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Str("adapter", a.name).Str("account", id.name).Int("regions", len(regions)).Msg("crawling account")

	c := &crawl{
		a:           a,
		accountID:   id.accountID,
		accountName: id.name,
		elog:        provider.NewErrorLog(a.errorDir, id.accountID),
		now:         a.now().UTC(),
	}
	defer c.elog.Close()

	acc := inventory.NewAccount(id.accountID, id.name, dataCentreType)

	tags, err := a.accountTags(ctx, id.accountID, c.elog)
	if err != nil {
		return nil, err
	}
	if tags != nil {
		acc.Tags = tags
	}

	acc.Users, err = provider.Optional(ctx, c.elog, opName("iam", "ListUsers", ""), c.users)
	if err != nil {
		return nil, err
	}
	c.logCount("users", "", len(acc.Users))

	if err := c.crawlRegions(ctx, regions, acc); err != nil {
		return nil, err
	}

	acc.Buckets, err = provider.Optional(ctx, c.elog, opName("s3", "ListBuckets", ""), c.buckets)
	if err != nil {
		return nil, err
	}
	c.logCount("buckets", "", len(acc.Buckets))

	servers := acc.Servers()
	sizes, err := c.sizings(ctx, distinctFlavours(servers))
	if err != nil {
		return nil, err
	}
	applySizing(servers, sizes)

	return acc, nil
}

// crawlRegions runs every region x kind unit through a bounded pool and
// merges the parts in unit order.
func (c *crawl) crawlRegions(ctx context.Context, regions []string, acc *inventory.Account) error {
	units := c.units(regions)
	parts := make([]*inventory.Account, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.a.workers)
	for i, u := range units {
		g.Go(func() error {
			uctx, span := tracer.Start(gctx, "aws.crawl", trace.WithAttributes(
				attribute.String("kind", u.kind),
				attribute.String("region", u.region),
			))
			defer span.End()

			part := &inventory.Account{}
			run := func(ctx context.Context) (int, error) {
				tmp := &inventory.Account{}
				n, err := u.run(ctx, tmp)
				if err != nil {
					return 0, err
				}
				*part = *tmp
				return n, nil
			}

			var (
				n   int
				err error
			)
			if u.required {
				n, err = run(uctx)
			} else {
				n, err = provider.Optional(uctx, c.elog, opName(u.kind, "crawl", u.region), run)
			}
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("crawl %s in %s: %w", u.kind, u.region, err)
			}
			parts[i] = part
			c.logCount(u.kind, u.region, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range parts {
		merge(acc, p)
	}
	return nil
}

func (c *crawl) units(regions []string) []unit {
	var units []unit
	for _, region := range regions {
		units = append(units,
			unit{kind: "instances", region: region, required: true, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				servers, err := c.instances(ctx, region)
				if err != nil || len(servers) == 0 {
					return 0, err
				}
				p.ServerGroups = []inventory.ServerGroup{{
					AccountID: c.accountID,
					GroupID:   region,
					GroupName: fmt.Sprintf("%s %s", c.accountName, region),
					Region:    region,
					Servers:   servers,
				}}
				return len(servers), nil
			}},
			unit{kind: "volumes", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				v, err := c.volumes(ctx, region)
				p.Volumes = v
				return len(v), err
			}},
			unit{kind: "rds", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				dbs, err := c.rdsInstances(ctx, region)
				p.Databases = append(p.Databases, dbs...)
				return len(dbs), err
			}},
			unit{kind: "redshift", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				dbs, err := c.redshiftClusters(ctx, region)
				p.Databases = append(p.Databases, dbs...)
				return len(dbs), err
			}},
			unit{kind: "memorydb", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				dbs, err := c.memoryDBClusters(ctx, region)
				p.Databases = append(p.Databases, dbs...)
				return len(dbs), err
			}},
			unit{kind: "functions", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				fns, err := c.functions(ctx, region)
				p.Functions = fns
				return len(fns), err
			}},
			unit{kind: "tables", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				t, err := c.tables(ctx, region)
				p.Tables = t
				return len(t), err
			}},
			unit{kind: "rest_apis", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				apis, err := c.restAPIs(ctx, region)
				p.RestAPIs = apis
				return len(apis), err
			}},
			unit{kind: "http_apis", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				apis, err := c.httpAPIs(ctx, region)
				p.HTTPAPIs = apis
				return len(apis), err
			}},
			unit{kind: "container_instances", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				ci, err := c.containerInstances(ctx, region)
				p.ContainerInstances = ci
				return len(ci), err
			}},
			unit{kind: "container_clusters", region: region, run: func(ctx context.Context, p *inventory.Account) (int, error) {
				cl, err := c.containerClusters(ctx, region)
				p.ContainerClusters = cl
				return len(cl), err
			}},
		)
	}
	return units
}

// merge appends every collection of part to acc.
func merge(acc, part *inventory.Account) {
	if part == nil {
		return
	}
	acc.ServerGroups = append(acc.ServerGroups, part.ServerGroups...)
	acc.Users = append(acc.Users, part.Users...)
	acc.Volumes = append(acc.Volumes, part.Volumes...)
	acc.Databases = append(acc.Databases, part.Databases...)
	acc.RestAPIs = append(acc.RestAPIs, part.RestAPIs...)
	acc.HTTPAPIs = append(acc.HTTPAPIs, part.HTTPAPIs...)
	acc.Functions = append(acc.Functions, part.Functions...)
	acc.Tables = append(acc.Tables, part.Tables...)
	acc.ContainerInstances = append(acc.ContainerInstances, part.ContainerInstances...)
	acc.ContainerClusters = append(acc.ContainerClusters, part.ContainerClusters...)
	acc.Buckets = append(acc.Buckets, part.Buckets...)
}

func (c *crawl) logCount(kind, region string, n int) {
	log.Info().
		Str("account", c.accountName).
		Str("region", region).
		Str("kind", kind).
		Int("count", n).
		Msg("crawled")
}
