package aws

import (
	"context"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	memorydbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cmdb/internal/pager"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

const (
	rdsPageSize        = 100
	certWarningDays    = 90
	freeStorageWindow  = 5 * time.Minute
	freeStoragePeriod  = 300
	bytesPerGigabyte   = 1_000_000_000.0
	engineRedshift     = "redshift"
	engineMemoryDB     = "memorydb"
	freeStorageQueryID = "free_storage_space"
)

// rdsInstances crawls the RDS instances of one region with their CA
// certificate expiry and latest free storage.
func (c *crawl) rdsInstances(ctx context.Context, region string) ([]inventory.CloudDatabase, error) {
	rc := c.a.clients(region)
	op := opName("rds", "DescribeDBInstances", region)

	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[rdstypes.DBInstance], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*rds.DescribeDBInstancesOutput, error) {
			return rc.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
				Marker:     token,
				MaxRecords: aws.Int32(rdsPageSize),
			})
		})
		if err != nil {
			return pager.Page[rdstypes.DBInstance]{}, err
		}
		return pager.Page[rdstypes.DBInstance]{Items: out.DBInstances, Next: out.Marker}, nil
	})
	if err != nil {
		return nil, err
	}

	dbs := make([]inventory.CloudDatabase, 0, len(raw))
	for _, inst := range raw {
		db := c.convertDBInstance(inst, region)

		caExpiry, err := c.caExpiry(ctx, rc, region, aws.ToString(inst.CACertificateIdentifier))
		if err != nil {
			return nil, err
		}
		db.CertificateAuthorityExpirationDate = caExpiry
		db.CertificateExpiration90DayWarning = certWarning(caExpiry, c.now)

		free, err := c.freeStorage(ctx, rc, region, aws.ToString(inst.DBInstanceIdentifier))
		if err != nil {
			return nil, err
		}
		db.FreeStorageSpace = free

		dbs = append(dbs, db)
	}
	return dbs, nil
}

func (c *crawl) convertDBInstance(inst rdstypes.DBInstance, region string) inventory.CloudDatabase {
	tags := make(map[string]string, len(inst.TagList))
	for _, t := range inst.TagList {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}

	db := inventory.CloudDatabase{
		Scope:               c.scope(region),
		ID:                  aws.ToString(inst.DbiResourceId),
		Name:                aws.ToString(inst.DBInstanceIdentifier),
		Engine:              aws.ToString(inst.Engine),
		Version:             aws.ToString(inst.EngineVersion),
		AvailabilityZone:    aws.ToString(inst.AvailabilityZone),
		InstanceType:        aws.ToString(inst.DBInstanceClass),
		Encrypted:           inst.StorageEncrypted,
		Tags:                tags,
		AllocatedStorage:    inst.AllocatedStorage,
		MaxAllocatedStorage: inst.MaxAllocatedStorage,
	}
	if inst.CertificateDetails != nil {
		db.CertificateAuthority = aws.ToString(inst.CertificateDetails.CAIdentifier)
		db.CertificateExpirationDate = inst.CertificateDetails.ValidTill
	}
	return db
}

// caExpiry returns the expiry of the CA certificate, nil when unknown.
func (c *crawl) caExpiry(ctx context.Context, rc *regionClients, region, caID string) (*time.Time, error) {
	if caID == "" {
		return nil, nil
	}
	op := opName("rds", "DescribeCertificates", region)
	out, err := call(ctx, c.a, op, func(ctx context.Context) (*rds.DescribeCertificatesOutput, error) {
		return rc.rds.DescribeCertificates(ctx, &rds.DescribeCertificatesInput{
			CertificateIdentifier: aws.String(caID),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		log.Warn().Err(err).Str("region", region).Str("ca", caID).Msg("failed to describe ca certificate")
		return nil, nil
	}
	if len(out.Certificates) == 0 {
		return nil, nil
	}
	return out.Certificates[0].ValidTill, nil
}

// certWarning is true when the certificate expires within 90 days.
func certWarning(validTill *time.Time, now time.Time) *bool {
	if validTill == nil {
		return nil
	}
	warn := validTill.AddDate(0, 0, -certWarningDays).Before(now)
	return &warn
}

// freeStorage returns the latest FreeStorageSpace datapoint in GB rounded to
// one decimal, nil when there is none.
func (c *crawl) freeStorage(ctx context.Context, rc *regionClients, region, instanceID string) (*float64, error) {
	op := opName("cloudwatch", "GetMetricData", region)
	end := c.now
	start := end.Add(-freeStorageWindow)

	out, err := call(ctx, c.a, op, func(ctx context.Context) (*cloudwatch.GetMetricDataOutput, error) {
		return rc.cloudwatch.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
			StartTime: aws.Time(start),
			EndTime:   aws.Time(end),
			ScanBy:    cwtypes.ScanByTimestampDescending,
			MetricDataQueries: []cwtypes.MetricDataQuery{{
				Id: aws.String(freeStorageQueryID),
				MetricStat: &cwtypes.MetricStat{
					Metric: &cwtypes.Metric{
						Namespace:  aws.String("AWS/RDS"),
						MetricName: aws.String("FreeStorageSpace"),
						Dimensions: []cwtypes.Dimension{{
							Name:  aws.String("DBInstanceIdentifier"),
							Value: aws.String(instanceID),
						}},
					},
					Period: aws.Int32(freeStoragePeriod),
					Stat:   aws.String("Minimum"),
				},
			}},
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		log.Warn().Err(err).Str("region", region).Str("db", instanceID).Msg("failed to read free storage")
		return nil, nil
	}

	for _, r := range out.MetricDataResults {
		if len(r.Values) == 0 {
			continue
		}
		gb := math.Round(r.Values[0]/bytesPerGigabyte*10) / 10
		return &gb, nil
	}
	return nil, nil
}

// redshiftClusters crawls the Redshift clusters of one region.
func (c *crawl) redshiftClusters(ctx context.Context, region string) ([]inventory.CloudDatabase, error) {
	rc := c.a.clients(region)
	op := opName("redshift", "DescribeClusters", region)

	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[redshifttypes.Cluster], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*redshift.DescribeClustersOutput, error) {
			return rc.redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{Marker: token})
		})
		if err != nil {
			return pager.Page[redshifttypes.Cluster]{}, err
		}
		return pager.Page[redshifttypes.Cluster]{Items: out.Clusters, Next: out.Marker}, nil
	})
	if err != nil {
		return nil, err
	}

	dbs := make([]inventory.CloudDatabase, 0, len(raw))
	for _, cl := range raw {
		tags := make(map[string]string, len(cl.Tags))
		for _, t := range cl.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		dbs = append(dbs, inventory.CloudDatabase{
			Scope:            c.scope(region),
			ID:               aws.ToString(cl.ClusterIdentifier),
			Name:             aws.ToString(cl.ClusterIdentifier),
			Engine:           engineRedshift,
			Version:          aws.ToString(cl.ClusterVersion),
			AvailabilityZone: aws.ToString(cl.AvailabilityZone),
			InstanceType:     aws.ToString(cl.NodeType),
			Encrypted:        cl.Encrypted,
			Tags:             tags,
		})
	}
	return dbs, nil
}

// memoryDBClusters crawls the MemoryDB clusters of one region.
func (c *crawl) memoryDBClusters(ctx context.Context, region string) ([]inventory.CloudDatabase, error) {
	rc := c.a.clients(region)
	op := opName("memorydb", "DescribeClusters", region)

	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[memorydbtypes.Cluster], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*memorydb.DescribeClustersOutput, error) {
			return rc.memorydb.DescribeClusters(ctx, &memorydb.DescribeClustersInput{NextToken: token})
		})
		if err != nil {
			return pager.Page[memorydbtypes.Cluster]{}, err
		}
		return pager.Page[memorydbtypes.Cluster]{Items: out.Clusters, Next: out.NextToken}, nil
	})
	if err != nil {
		return nil, err
	}

	dbs := make([]inventory.CloudDatabase, 0, len(raw))
	for _, cl := range raw {
		dbs = append(dbs, inventory.CloudDatabase{
			Scope:        c.scope(region),
			ID:           aws.ToString(cl.ARN),
			Name:         aws.ToString(cl.Name),
			Engine:       engineMemoryDB,
			Version:      aws.ToString(cl.EngineVersion),
			InstanceType: aws.ToString(cl.NodeType),
			Encrypted:    cl.TLSEnabled, // in transit
			Tags:         map[string]string{},
		})
	}
	return dbs, nil
}
