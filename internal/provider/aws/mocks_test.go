package aws

import (
	"context"
	"time"

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

	"github.com/yairfalse/cmdb/internal/provider"
)

// Mocks return an empty output when their function field is nil.

type mockSTSClient struct {
	GetCallerIdentityFunc func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

func (m *mockSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return m.GetCallerIdentityFunc(ctx, params, optFns...)
}

type mockIAMClient struct {
	ListAccountAliasesFunc func(ctx context.Context, params *iam.ListAccountAliasesInput, optFns ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error)
	ListUsersFunc          func(ctx context.Context, params *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error)
	GetLoginProfileFunc    func(ctx context.Context, params *iam.GetLoginProfileInput, optFns ...func(*iam.Options)) (*iam.GetLoginProfileOutput, error)
}

func (m *mockIAMClient) ListAccountAliases(ctx context.Context, params *iam.ListAccountAliasesInput, optFns ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error) {
	if m.ListAccountAliasesFunc == nil {
		return &iam.ListAccountAliasesOutput{}, nil
	}
	return m.ListAccountAliasesFunc(ctx, params, optFns...)
}

func (m *mockIAMClient) ListUsers(ctx context.Context, params *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error) {
	if m.ListUsersFunc == nil {
		return &iam.ListUsersOutput{}, nil
	}
	return m.ListUsersFunc(ctx, params, optFns...)
}

func (m *mockIAMClient) GetLoginProfile(ctx context.Context, params *iam.GetLoginProfileInput, optFns ...func(*iam.Options)) (*iam.GetLoginProfileOutput, error) {
	if m.GetLoginProfileFunc == nil {
		return &iam.GetLoginProfileOutput{}, nil
	}
	return m.GetLoginProfileFunc(ctx, params, optFns...)
}

type mockOrgClient struct {
	ListTagsForResourceFunc func(ctx context.Context, params *organizations.ListTagsForResourceInput, optFns ...func(*organizations.Options)) (*organizations.ListTagsForResourceOutput, error)
}

func (m *mockOrgClient) ListTagsForResource(ctx context.Context, params *organizations.ListTagsForResourceInput, optFns ...func(*organizations.Options)) (*organizations.ListTagsForResourceOutput, error) {
	if m.ListTagsForResourceFunc == nil {
		return &organizations.ListTagsForResourceOutput{}, nil
	}
	return m.ListTagsForResourceFunc(ctx, params, optFns...)
}

type mockPricingClient struct {
	GetProductsFunc func(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

func (m *mockPricingClient) GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	if m.GetProductsFunc == nil {
		return &pricing.GetProductsOutput{}, nil
	}
	return m.GetProductsFunc(ctx, params, optFns...)
}

type mockS3Client struct {
	ListBucketsFunc       func(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketLocationFunc func(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
}

func (m *mockS3Client) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if m.ListBucketsFunc == nil {
		return &s3.ListBucketsOutput{}, nil
	}
	return m.ListBucketsFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	if m.GetBucketLocationFunc == nil {
		return &s3.GetBucketLocationOutput{}, nil
	}
	return m.GetBucketLocationFunc(ctx, params, optFns...)
}

type mockEC2Client struct {
	DescribeRegionsFunc   func(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
	DescribeInstancesFunc func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumesFunc   func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeImagesFunc    func(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
}

func (m *mockEC2Client) DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	if m.DescribeRegionsFunc == nil {
		return &ec2.DescribeRegionsOutput{}, nil
	}
	return m.DescribeRegionsFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.DescribeInstancesFunc == nil {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	return m.DescribeInstancesFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	if m.DescribeVolumesFunc == nil {
		return &ec2.DescribeVolumesOutput{}, nil
	}
	return m.DescribeVolumesFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	if m.DescribeImagesFunc == nil {
		return &ec2.DescribeImagesOutput{}, nil
	}
	return m.DescribeImagesFunc(ctx, params, optFns...)
}

type mockSSMClient struct {
	DescribeInstanceInformationFunc func(ctx context.Context, params *ssm.DescribeInstanceInformationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
}

func (m *mockSSMClient) DescribeInstanceInformation(ctx context.Context, params *ssm.DescribeInstanceInformationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error) {
	if m.DescribeInstanceInformationFunc == nil {
		return &ssm.DescribeInstanceInformationOutput{}, nil
	}
	return m.DescribeInstanceInformationFunc(ctx, params, optFns...)
}

type mockCloudTrailClient struct {
	LookupEventsFunc func(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

func (m *mockCloudTrailClient) LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
	if m.LookupEventsFunc == nil {
		return &cloudtrail.LookupEventsOutput{}, nil
	}
	return m.LookupEventsFunc(ctx, params, optFns...)
}

type mockRDSClient struct {
	DescribeDBInstancesFunc  func(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	DescribeCertificatesFunc func(ctx context.Context, params *rds.DescribeCertificatesInput, optFns ...func(*rds.Options)) (*rds.DescribeCertificatesOutput, error)
}

func (m *mockRDSClient) DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	if m.DescribeDBInstancesFunc == nil {
		return &rds.DescribeDBInstancesOutput{}, nil
	}
	return m.DescribeDBInstancesFunc(ctx, params, optFns...)
}

func (m *mockRDSClient) DescribeCertificates(ctx context.Context, params *rds.DescribeCertificatesInput, optFns ...func(*rds.Options)) (*rds.DescribeCertificatesOutput, error) {
	if m.DescribeCertificatesFunc == nil {
		return &rds.DescribeCertificatesOutput{}, nil
	}
	return m.DescribeCertificatesFunc(ctx, params, optFns...)
}

type mockCloudWatchClient struct {
	GetMetricDataFunc func(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

func (m *mockCloudWatchClient) GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	if m.GetMetricDataFunc == nil {
		return &cloudwatch.GetMetricDataOutput{}, nil
	}
	return m.GetMetricDataFunc(ctx, params, optFns...)
}

type mockRedshiftClient struct {
	DescribeClustersFunc func(ctx context.Context, params *redshift.DescribeClustersInput, optFns ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error)
}

func (m *mockRedshiftClient) DescribeClusters(ctx context.Context, params *redshift.DescribeClustersInput, optFns ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error) {
	if m.DescribeClustersFunc == nil {
		return &redshift.DescribeClustersOutput{}, nil
	}
	return m.DescribeClustersFunc(ctx, params, optFns...)
}

type mockMemoryDBClient struct {
	DescribeClustersFunc func(ctx context.Context, params *memorydb.DescribeClustersInput, optFns ...func(*memorydb.Options)) (*memorydb.DescribeClustersOutput, error)
}

func (m *mockMemoryDBClient) DescribeClusters(ctx context.Context, params *memorydb.DescribeClustersInput, optFns ...func(*memorydb.Options)) (*memorydb.DescribeClustersOutput, error) {
	if m.DescribeClustersFunc == nil {
		return &memorydb.DescribeClustersOutput{}, nil
	}
	return m.DescribeClustersFunc(ctx, params, optFns...)
}

type mockLambdaClient struct {
	ListFunctionsFunc func(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
}

func (m *mockLambdaClient) ListFunctions(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
	if m.ListFunctionsFunc == nil {
		return &lambda.ListFunctionsOutput{}, nil
	}
	return m.ListFunctionsFunc(ctx, params, optFns...)
}

type mockDynamoDBClient struct {
	ListTablesFunc func(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

func (m *mockDynamoDBClient) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	if m.ListTablesFunc == nil {
		return &dynamodb.ListTablesOutput{}, nil
	}
	return m.ListTablesFunc(ctx, params, optFns...)
}

type mockRestAPIClient struct {
	GetRestApisFunc func(ctx context.Context, params *apigateway.GetRestApisInput, optFns ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error)
}

func (m *mockRestAPIClient) GetRestApis(ctx context.Context, params *apigateway.GetRestApisInput, optFns ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error) {
	if m.GetRestApisFunc == nil {
		return &apigateway.GetRestApisOutput{}, nil
	}
	return m.GetRestApisFunc(ctx, params, optFns...)
}

type mockHTTPAPIClient struct {
	GetApisFunc func(ctx context.Context, params *apigatewayv2.GetApisInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetApisOutput, error)
}

func (m *mockHTTPAPIClient) GetApis(ctx context.Context, params *apigatewayv2.GetApisInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetApisOutput, error) {
	if m.GetApisFunc == nil {
		return &apigatewayv2.GetApisOutput{}, nil
	}
	return m.GetApisFunc(ctx, params, optFns...)
}

type mockECSClient struct {
	ListClustersFunc           func(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error)
	ListContainerInstancesFunc func(ctx context.Context, params *ecs.ListContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.ListContainerInstancesOutput, error)
}

func (m *mockECSClient) ListClusters(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
	if m.ListClustersFunc == nil {
		return &ecs.ListClustersOutput{}, nil
	}
	return m.ListClustersFunc(ctx, params, optFns...)
}

func (m *mockECSClient) ListContainerInstances(ctx context.Context, params *ecs.ListContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.ListContainerInstancesOutput, error) {
	if m.ListContainerInstancesFunc == nil {
		return &ecs.ListContainerInstancesOutput{}, nil
	}
	return m.ListContainerInstancesFunc(ctx, params, optFns...)
}

type mockEKSClient struct {
	ListClustersFunc    func(ctx context.Context, params *eks.ListClustersInput, optFns ...func(*eks.Options)) (*eks.ListClustersOutput, error)
	DescribeClusterFunc func(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
}

func (m *mockEKSClient) ListClusters(ctx context.Context, params *eks.ListClustersInput, optFns ...func(*eks.Options)) (*eks.ListClustersOutput, error) {
	if m.ListClustersFunc == nil {
		return &eks.ListClustersOutput{}, nil
	}
	return m.ListClustersFunc(ctx, params, optFns...)
}

func (m *mockEKSClient) DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	if m.DescribeClusterFunc == nil {
		return &eks.DescribeClusterOutput{}, nil
	}
	return m.DescribeClusterFunc(ctx, params, optFns...)
}

// emptyRegion returns clients that report nothing in every service.
func emptyRegion() *regionClients {
	return &regionClients{
		ec2:        &mockEC2Client{},
		ssm:        &mockSSMClient{},
		cloudtrail: &mockCloudTrailClient{},
		rds:        &mockRDSClient{},
		cloudwatch: &mockCloudWatchClient{},
		redshift:   &mockRedshiftClient{},
		memorydb:   &mockMemoryDBClient{},
		lambda:     &mockLambdaClient{},
		dynamodb:   &mockDynamoDBClient{},
		restAPI:    &mockRestAPIClient{},
		httpAPI:    &mockHTTPAPIClient{},
		ecs:        &mockECSClient{},
		eks:        &mockEKSClient{},
	}
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestAdapter wires mocks into an adapter. Regions not in regional get
// empty clients.
func newTestAdapter(cfg Config, global globalClients, regional map[string]*regionClients) *Adapter {
	if cfg.Retry == (provider.RetryPolicy{}) {
		cfg.Retry = provider.RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	}
	a := newAdapter(cfg)
	a.now = func() time.Time { return testNow }
	if global.sts == nil {
		global.sts = &mockSTSClient{GetCallerIdentityFunc: func(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
			return &sts.GetCallerIdentityOutput{Account: strPtr("123456789012")}, nil
		}}
	}
	if global.iam == nil {
		global.iam = &mockIAMClient{}
	}
	if global.ec2 == nil {
		global.ec2 = &mockEC2Client{}
	}
	if global.org == nil {
		global.org = &mockOrgClient{}
	}
	if global.pricing == nil {
		global.pricing = &mockPricingClient{}
	}
	if global.s3 == nil {
		global.s3 = &mockS3Client{}
	}
	a.global = global
	a.newRegion = func(region string) *regionClients {
		if rc, ok := regional[region]; ok {
			return rc
		}
		return emptyRegion()
	}
	return a
}

func strPtr(s string) *string { return &s }
