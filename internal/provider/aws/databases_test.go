package aws

import (
	"context"
	"testing"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertWarning(t *testing.T) {
	assert.Nil(t, certWarning(nil, testNow))

	soon := testNow.AddDate(0, 0, 30)
	assert.Equal(t, aws.Bool(true), certWarning(&soon, testNow))

	later := testNow.AddDate(1, 0, 0)
	assert.Equal(t, aws.Bool(false), certWarning(&later, testNow))
}

func TestRDSInstances(t *testing.T) {
	caExpiry := testNow.AddDate(0, 0, 60)
	certExpiry := testNow.AddDate(2, 0, 0)

	rc := emptyRegion()
	rc.rds = &mockRDSClient{
		DescribeDBInstancesFunc: func(_ context.Context, params *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
			assert.Equal(t, int32(100), aws.ToInt32(params.MaxRecords))
			return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{{
				DbiResourceId:           aws.String("db-ABC"),
				DBInstanceIdentifier:    aws.String("orders"),
				Engine:                  aws.String("postgres"),
				EngineVersion:           aws.String("15.4"),
				DBInstanceClass:         aws.String("db.r6g.large"),
				StorageEncrypted:        aws.Bool(true),
				AllocatedStorage:        aws.Int32(100),
				CACertificateIdentifier: aws.String("rds-ca-rsa2048-g1"),
				CertificateDetails: &rdstypes.CertificateDetails{
					CAIdentifier: aws.String("rds-ca-rsa2048-g1"),
					ValidTill:    &certExpiry,
				},
				TagList: []rdstypes.Tag{{Key: aws.String("team"), Value: aws.String("orders")}},
			}}}, nil
		},
		DescribeCertificatesFunc: func(_ context.Context, params *rds.DescribeCertificatesInput, _ ...func(*rds.Options)) (*rds.DescribeCertificatesOutput, error) {
			assert.Equal(t, "rds-ca-rsa2048-g1", aws.ToString(params.CertificateIdentifier))
			return &rds.DescribeCertificatesOutput{Certificates: []rdstypes.Certificate{{ValidTill: &caExpiry}}}, nil
		},
	}
	rc.cloudwatch = &mockCloudWatchClient{
		GetMetricDataFunc: func(_ context.Context, params *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
			require.Len(t, params.MetricDataQueries, 1)
			stat := params.MetricDataQueries[0].MetricStat
			assert.Equal(t, "FreeStorageSpace", aws.ToString(stat.Metric.MetricName))
			assert.Equal(t, "Minimum", aws.ToString(stat.Stat))
			assert.Equal(t, int32(300), aws.ToInt32(stat.Period))
			assert.Equal(t, "orders", aws.ToString(stat.Metric.Dimensions[0].Value))
			assert.Equal(t, 5*time.Minute, params.EndTime.Sub(*params.StartTime))
			return &cloudwatch.GetMetricDataOutput{MetricDataResults: []cwtypes.MetricDataResult{{
				Values: []float64{12_345_678_901, 99_000_000_000},
			}}}, nil
		},
	}
	a := newTestAdapter(Config{}, globalClients{}, map[string]*regionClients{"eu-west-1": rc})

	dbs, err := testCrawl(a).rdsInstances(context.Background(), "eu-west-1")
	require.NoError(t, err)
	require.Len(t, dbs, 1)

	db := dbs[0]
	assert.Equal(t, "db-ABC", db.ID)
	assert.Equal(t, "orders", db.Name)
	assert.Equal(t, "eu-west-1", db.Region)
	assert.Equal(t, "AWS", db.CloudType)
	assert.Equal(t, &caExpiry, db.CertificateAuthorityExpirationDate)
	assert.Equal(t, &certExpiry, db.CertificateExpirationDate)
	assert.Equal(t, aws.Bool(true), db.CertificateExpiration90DayWarning)
	require.NotNil(t, db.FreeStorageSpace)
	assert.Equal(t, 12.3, *db.FreeStorageSpace)
	assert.Equal(t, map[string]string{"team": "orders"}, db.Tags)
}

func TestRDSInstances_EnrichmentFailuresLeaveNil(t *testing.T) {
	rc := emptyRegion()
	rc.rds = &mockRDSClient{
		DescribeDBInstancesFunc: func(context.Context, *rds.DescribeDBInstancesInput, ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
			return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{{
				DBInstanceIdentifier:    aws.String("orders"),
				CACertificateIdentifier: aws.String("rds-ca-2019"),
			}}}, nil
		},
		DescribeCertificatesFunc: func(context.Context, *rds.DescribeCertificatesInput, ...func(*rds.Options)) (*rds.DescribeCertificatesOutput, error) {
			return nil, apiError("AccessDenied")
		},
	}
	rc.cloudwatch = &mockCloudWatchClient{
		GetMetricDataFunc: func(context.Context, *cloudwatch.GetMetricDataInput, ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
			return nil, apiError("AccessDenied")
		},
	}
	a := newTestAdapter(Config{}, globalClients{}, map[string]*regionClients{"eu-west-1": rc})

	dbs, err := testCrawl(a).rdsInstances(context.Background(), "eu-west-1")
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	assert.Nil(t, dbs[0].CertificateAuthorityExpirationDate)
	assert.Nil(t, dbs[0].CertificateExpiration90DayWarning)
	assert.Nil(t, dbs[0].FreeStorageSpace)
}

func TestRedshiftAndMemoryDB(t *testing.T) {
	rc := emptyRegion()
	rc.redshift = &mockRedshiftClient{
		DescribeClustersFunc: func(context.Context, *redshift.DescribeClustersInput, ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error) {
			return &redshift.DescribeClustersOutput{Clusters: []redshifttypes.Cluster{{
				ClusterIdentifier: aws.String("warehouse"),
				NodeType:          aws.String("ra3.xlplus"),
				Encrypted:         aws.Bool(true),
			}}}, nil
		},
	}
	rc.memorydb = &mockMemoryDBClient{
		DescribeClustersFunc: func(context.Context, *memorydb.DescribeClustersInput, ...func(*memorydb.Options)) (*memorydb.DescribeClustersOutput, error) {
			return &memorydb.DescribeClustersOutput{Clusters: []memorydbtypes.Cluster{{
				ARN:        aws.String("arn:aws:memorydb:eu-west-1:123456789012:cluster/cache"),
				Name:       aws.String("cache"),
				TLSEnabled: aws.Bool(false),
			}}}, nil
		},
	}
	a := newTestAdapter(Config{}, globalClients{}, map[string]*regionClients{"eu-west-1": rc})
	c := testCrawl(a)

	rs, err := c.redshiftClusters(context.Background(), "eu-west-1")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "redshift", rs[0].Engine)
	assert.Equal(t, "warehouse", rs[0].ID)
	assert.Equal(t, aws.Bool(true), rs[0].Encrypted)

	mdb, err := c.memoryDBClusters(context.Background(), "eu-west-1")
	require.NoError(t, err)
	require.Len(t, mdb, 1)
	assert.Equal(t, "memorydb", mdb[0].Engine)
	assert.Equal(t, "cache", mdb[0].Name)
	assert.Equal(t, aws.Bool(false), mdb[0].Encrypted)
}
