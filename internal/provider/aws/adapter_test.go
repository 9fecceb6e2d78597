package aws

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

func regionsOutput(names ...string) func(context.Context, *ec2.DescribeRegionsInput, ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	return func(context.Context, *ec2.DescribeRegionsInput, ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
		out := &ec2.DescribeRegionsOutput{}
		for _, n := range names {
			out.Regions = append(out.Regions, ec2types.Region{RegionName: aws.String(n)})
		}
		return out, nil
	}
}

func instancesOutput(instances ...ec2types.Instance) func(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return func(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
		return &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{{Instances: instances}},
		}, nil
	}
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code, Fault: smithy.FaultClient}
}

func TestGetAccount_FullCrawl(t *testing.T) {
	launch := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	eu := emptyRegion()
	eu.ec2 = &mockEC2Client{
		DescribeInstancesFunc: func(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			if params.NextToken == nil {
				return &ec2.DescribeInstancesOutput{
					Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{
						InstanceId:   aws.String("i-1"),
						InstanceType: ec2types.InstanceType("m5.large"),
						State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
						ImageId:      aws.String("ami-1"),
						LaunchTime:   &launch,
						CpuOptions:   &ec2types.CpuOptions{CoreCount: aws.Int32(1), ThreadsPerCore: aws.Int32(1)},
						Tags:         []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("web")}},
					}}}},
					NextToken: aws.String("page-2"),
				}, nil
			}
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{
					InstanceId:            aws.String("i-2"),
					InstanceType:          ec2types.InstanceType("t3.micro"),
					State:                 &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
					StateTransitionReason: aws.String("User initiated (2024-01-02 10:11:12 GMT)"),
					ImageId:               aws.String("ami-gone"),
					CpuOptions:            &ec2types.CpuOptions{CoreCount: aws.Int32(1), ThreadsPerCore: aws.Int32(2)},
				}}}},
			}, nil
		},
		DescribeImagesFunc: func(context.Context, *ec2.DescribeImagesInput, ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
			return &ec2.DescribeImagesOutput{Images: []ec2types.Image{{ImageId: aws.String("ami-1"), Description: aws.String("Ubuntu 22.04")}}}, nil
		},
	}
	eu.ssm = &mockSSMClient{
		DescribeInstanceInformationFunc: func(context.Context, *ssm.DescribeInstanceInformationInput, ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error) {
			return &ssm.DescribeInstanceInformationOutput{InstanceInformationList: []ssmtypes.InstanceInformation{{
				InstanceId:      aws.String("i-1"),
				PlatformName:    aws.String("Ubuntu"),
				PlatformType:    ssmtypes.PlatformTypeLinux,
				PlatformVersion: aws.String("22.04"),
			}}}, nil
		},
	}
	eu.lambda = &mockLambdaClient{
		ListFunctionsFunc: func(context.Context, *lambda.ListFunctionsInput, ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
			return &lambda.ListFunctionsOutput{Functions: []lambdatypes.FunctionConfiguration{{FunctionName: aws.String("resize")}}}, nil
		},
	}
	eu.restAPI = &mockRestAPIClient{
		GetRestApisFunc: func(context.Context, *apigateway.GetRestApisInput, ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error) {
			return nil, apiError("AccessDeniedException")
		},
	}

	global := globalClients{
		iam: &mockIAMClient{
			ListAccountAliasesFunc: func(context.Context, *iam.ListAccountAliasesInput, ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error) {
				return &iam.ListAccountAliasesOutput{AccountAliases: []string{"payments"}}, nil
			},
			ListUsersFunc: func(context.Context, *iam.ListUsersInput, ...func(*iam.Options)) (*iam.ListUsersOutput, error) {
				return &iam.ListUsersOutput{Users: []iamtypes.User{{
					UserId:           aws.String("AID1"),
					UserName:         aws.String("alice"),
					CreateDate:       &created,
					PasswordLastUsed: &time.Time{},
				}}}, nil
			},
		},
		ec2: &mockEC2Client{DescribeRegionsFunc: regionsOutput("us-east-1", "eu-west-1")},
		pricing: &mockPricingClient{
			GetProductsFunc: func(_ context.Context, params *pricing.GetProductsInput, _ ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
				if aws.ToString(params.Filters[0].Value) != "m5.large" {
					return &pricing.GetProductsOutput{}, nil
				}
				return &pricing.GetProductsOutput{PriceList: []string{
					`{"product":{"attributes":{"instanceType":"m5.large","vcpu":"2","memory":"8 GiB"}}}`,
				}}, nil
			},
		},
		s3: &mockS3Client{
			ListBucketsFunc: func(context.Context, *s3.ListBucketsInput, ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
				return &s3.ListBucketsOutput{Buckets: []s3types.Bucket{{Name: aws.String("logs"), CreationDate: &created}}}, nil
			},
			GetBucketLocationFunc: func(context.Context, *s3.GetBucketLocationInput, ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
				return &s3.GetBucketLocationOutput{LocationConstraint: s3types.BucketLocationConstraintEu}, nil
			},
		},
	}

	a := newTestAdapter(Config{}, global, map[string]*regionClients{"eu-west-1": eu})
	acc, err := a.GetAccount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "123456789012", acc.AccountID)
	assert.Equal(t, "payments-123456789012", acc.AccountName)
	assert.Equal(t, "Aws", acc.DataCentreType)

	require.Len(t, acc.ServerGroups, 1, "regions without servers get no group")
	group := acc.ServerGroups[0]
	assert.Equal(t, "eu-west-1", group.GroupID)
	assert.Equal(t, "payments-123456789012 eu-west-1", group.GroupName)
	require.Len(t, group.Servers, 2)

	web := group.Servers[0]
	assert.Equal(t, "i-1", web.ID)
	assert.Equal(t, "web", web.Name)
	assert.Equal(t, 2, web.CPU, "price list overrides cpu")
	assert.Equal(t, 8.0, web.RAM)
	assert.Equal(t, "Ubuntu 22.04", web.ImageName)
	assert.Equal(t, "SSM", web.Platform.LookupMethod)
	assert.Equal(t, inventory.StoppedNotApplicable, web.StoppedFor30Days)
	assert.Nil(t, web.Updated)

	stopped := group.Servers[1]
	assert.Equal(t, "Removed Image", stopped.ImageName)
	assert.Equal(t, 2, stopped.CPU, "unpriced flavour keeps core count")
	assert.Equal(t, inventory.Platform{}, stopped.Platform)
	assert.Equal(t, inventory.StoppedTrue, stopped.StoppedFor30Days)
	assert.Equal(t, inventory.StoppedTrue, stopped.StoppedFor90Days)
	require.NotNil(t, stopped.StoppedDate)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 11, 12, 0, time.UTC), *stopped.StoppedDate)

	require.Len(t, acc.Users, 1)
	assert.Equal(t, "", acc.Users[0].Region)
	assert.Equal(t, aws.Bool(true), acc.Users[0].ConsoleAccess)
	assert.Nil(t, acc.Users[0].PasswordLastUsed)

	require.Len(t, acc.Functions, 1)
	assert.Equal(t, "resize", acc.Functions[0].FunctionName)
	assert.Empty(t, acc.RestAPIs, "permission denied degrades to empty")

	require.Len(t, acc.Buckets, 1)
	assert.Equal(t, "eu-west-1", acc.Buckets[0].Region)
}

func TestGetAccount_NoAliasUsesAccountID(t *testing.T) {
	a := newTestAdapter(Config{}, globalClients{}, nil)

	acc, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012-123456789012", acc.AccountName)
	assert.Empty(t, acc.ServerGroups)
}

func TestGetAccount_OrganizationTags(t *testing.T) {
	var asked []string
	global := globalClients{
		org: &mockOrgClient{
			ListTagsForResourceFunc: func(_ context.Context, params *organizations.ListTagsForResourceInput, _ ...func(*organizations.Options)) (*organizations.ListTagsForResourceOutput, error) {
				asked = append(asked, aws.ToString(params.ResourceId))
				if params.NextToken == nil {
					return &organizations.ListTagsForResourceOutput{
						Tags:      []orgtypes.Tag{{Key: aws.String("team"), Value: aws.String("payments")}},
						NextToken: aws.String("next"),
					}, nil
				}
				return &organizations.ListTagsForResourceOutput{
					Tags: []orgtypes.Tag{{Key: aws.String("env"), Value: aws.String("prod")}},
				}, nil
			},
		},
	}
	a := newTestAdapter(Config{}, global, nil)

	acc, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"123456789012", "123456789012"}, asked)
	assert.Equal(t, map[string]string{"team": "payments", "env": "prod"}, acc.Tags)
}

func TestGetAccount_OrganizationTagsDenied(t *testing.T) {
	global := globalClients{
		org: &mockOrgClient{
			ListTagsForResourceFunc: func(context.Context, *organizations.ListTagsForResourceInput, ...func(*organizations.Options)) (*organizations.ListTagsForResourceOutput, error) {
				return nil, apiError("AccessDeniedException")
			},
		},
	}
	a := newTestAdapter(Config{}, global, nil)

	acc, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Empty(t, acc.Tags)
}

func TestGetAccount_IdentityFailureIsConfiguration(t *testing.T) {
	global := globalClients{
		sts: &mockSTSClient{GetCallerIdentityFunc: func(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
			return nil, apiError("InvalidClientTokenId")
		}},
	}
	a := newTestAdapter(Config{}, global, nil)

	_, err := a.GetAccount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrConfiguration)
}

func TestGetAccount_AliasFailureIsFatal(t *testing.T) {
	global := globalClients{
		iam: &mockIAMClient{ListAccountAliasesFunc: func(context.Context, *iam.ListAccountAliasesInput, ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error) {
			return nil, apiError("AccessDenied")
		}},
	}
	a := newTestAdapter(Config{}, global, nil)

	_, err := a.GetAccount(context.Background())
	assert.ErrorIs(t, err, provider.ErrConfiguration)
}

func TestGetAccount_InstanceListingFailureIsFatal(t *testing.T) {
	eu := emptyRegion()
	eu.ec2 = &mockEC2Client{DescribeInstancesFunc: func(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
		return nil, apiError("UnauthorizedOperation")
	}}
	global := globalClients{ec2: &mockEC2Client{DescribeRegionsFunc: regionsOutput("eu-west-1")}}
	a := newTestAdapter(Config{}, global, map[string]*regionClients{"eu-west-1": eu})

	acc, err := a.GetAccount(context.Background())
	require.Error(t, err)
	assert.Nil(t, acc)
	assert.ErrorIs(t, err, provider.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "instances in eu-west-1")
}

func TestGetAccount_TransientInstanceErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	eu := emptyRegion()
	eu.ec2 = &mockEC2Client{DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
		if calls.Add(1) == 1 {
			return nil, apiError("RequestLimitExceeded")
		}
		return instancesOutput(ec2types.Instance{InstanceId: aws.String("i-1")})(ctx, params, optFns...)
	}}
	global := globalClients{ec2: &mockEC2Client{DescribeRegionsFunc: regionsOutput("eu-west-1")}}
	a := newTestAdapter(Config{}, global, map[string]*regionClients{"eu-west-1": eu})

	acc, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, acc.ServerCount())
}

func TestGetAccount_UnexpectedOptionalErrorIsRecorded(t *testing.T) {
	dir := t.TempDir()
	eu := emptyRegion()
	eu.lambda = &mockLambdaClient{ListFunctionsFunc: func(context.Context, *lambda.ListFunctionsInput, ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
		return nil, errors.New("lambda endpoint exploded")
	}}
	global := globalClients{ec2: &mockEC2Client{DescribeRegionsFunc: regionsOutput("eu-west-1")}}
	a := newTestAdapter(Config{ErrorDir: dir}, global, map[string]*regionClients{"eu-west-1": eu})

	acc, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Empty(t, acc.Functions)

	data, err := os.ReadFile(filepath.Join(dir, "123456789012_error_report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "functions:crawl[eu-west-1]")
	assert.Contains(t, string(data), "lambda endpoint exploded")
}

func TestGetAccount_RegionFilter(t *testing.T) {
	var seen []string
	newRegionCalls := map[string]*regionClients{}
	for _, r := range []string{"eu-west-1", "us-east-1"} {
		rc := emptyRegion()
		region := r
		rc.ec2 = &mockEC2Client{DescribeInstancesFunc: func(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			seen = append(seen, region)
			return &ec2.DescribeInstancesOutput{}, nil
		}}
		newRegionCalls[r] = rc
	}
	global := globalClients{ec2: &mockEC2Client{DescribeRegionsFunc: regionsOutput("eu-west-1", "us-east-1")}}
	a := newTestAdapter(Config{Regions: []string{"us-east-1", "ap-south-1"}}, global, newRegionCalls)

	_, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1"}, seen)
}

func TestGetAccount_ConcurrentCrawlIsOrdered(t *testing.T) {
	regions := []string{"ap-south-1", "eu-west-1", "us-east-1", "us-west-2"}
	regional := make(map[string]*regionClients, len(regions))
	for _, r := range regions {
		rc := emptyRegion()
		rc.ec2 = &mockEC2Client{DescribeInstancesFunc: instancesOutput(ec2types.Instance{InstanceId: aws.String("i-" + r)})}
		regional[r] = rc
	}
	global := globalClients{ec2: &mockEC2Client{DescribeRegionsFunc: regionsOutput("us-west-2", "eu-west-1", "us-east-1", "ap-south-1")}}
	a := newTestAdapter(Config{Concurrency: 8}, global, regional)

	acc, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	require.Len(t, acc.ServerGroups, len(regions))
	for i, r := range regions {
		assert.Equal(t, r, acc.ServerGroups[i].Region)
		assert.Equal(t, "i-"+r, acc.ServerGroups[i].Servers[0].ID)
	}
}

func TestGetAccount_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAdapter(Config{}, globalClients{}, nil)

	_, err := a.GetAccount(ctx)
	require.Error(t, err)
	assert.True(t, provider.IsCancelled(err))
}

func TestOpName(t *testing.T) {
	assert.Equal(t, "iam:ListUsers", opName("iam", "ListUsers", ""))
	assert.Equal(t, "ec2:DescribeInstances[eu-west-1]", opName("ec2", "DescribeInstances", "eu-west-1"))
}

func TestNewAdapterDefaults(t *testing.T) {
	a := newAdapter(Config{})
	assert.Equal(t, "aws", a.Name())
	assert.Equal(t, 1, a.workers)
	assert.NotNil(t, a.limiter)
}
