package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	apigwv2types "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/cmdb/internal/pager"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

// volumes crawls the block volumes of one region.
func (c *crawl) volumes(ctx context.Context, region string) ([]inventory.CloudVolume, error) {
	raw, err := c.regionVolumes(ctx, c.a.clients(region), region)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.CloudVolume, 0, len(raw))
	for _, v := range raw {
		out = append(out, inventory.CloudVolume{
			Scope:     c.scope(region),
			ID:        aws.ToString(v.VolumeId),
			Name:      nameTag(v.Tags),
			Type:      string(v.VolumeType),
			Encrypted: v.Encrypted,
		})
	}
	return out, nil
}

// functions crawls the Lambda functions of one region.
func (c *crawl) functions(ctx context.Context, region string) ([]inventory.LambdaFunction, error) {
	rc := c.a.clients(region)
	op := opName("lambda", "ListFunctions", region)
	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[lambdatypes.FunctionConfiguration], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*lambda.ListFunctionsOutput, error) {
			return rc.lambda.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: token})
		})
		if err != nil {
			return pager.Page[lambdatypes.FunctionConfiguration]{}, err
		}
		return pager.Page[lambdatypes.FunctionConfiguration]{Items: out.Functions, Next: out.NextMarker}, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]inventory.LambdaFunction, 0, len(raw))
	for _, fn := range raw {
		out = append(out, inventory.LambdaFunction{Scope: c.scope(region), FunctionName: aws.ToString(fn.FunctionName)})
	}
	return out, nil
}

// tables crawls the DynamoDB tables of one region.
func (c *crawl) tables(ctx context.Context, region string) ([]inventory.DynamoTable, error) {
	rc := c.a.clients(region)
	op := opName("dynamodb", "ListTables", region)
	names, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[string], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*dynamodb.ListTablesOutput, error) {
			return rc.dynamodb.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: token})
		})
		if err != nil {
			return pager.Page[string]{}, err
		}
		return pager.Page[string]{Items: out.TableNames, Next: out.LastEvaluatedTableName}, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]inventory.DynamoTable, 0, len(names))
	for _, name := range names {
		out = append(out, inventory.DynamoTable{Scope: c.scope(region), TableName: name})
	}
	return out, nil
}

// restAPIs crawls the API Gateway REST APIs of one region.
func (c *crawl) restAPIs(ctx context.Context, region string) ([]inventory.GatewayAPI, error) {
	rc := c.a.clients(region)
	op := opName("apigateway", "GetRestApis", region)
	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[apigwtypes.RestApi], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*apigateway.GetRestApisOutput, error) {
			return rc.restAPI.GetRestApis(ctx, &apigateway.GetRestApisInput{Position: token})
		})
		if err != nil {
			return pager.Page[apigwtypes.RestApi]{}, err
		}
		return pager.Page[apigwtypes.RestApi]{Items: out.Items, Next: out.Position}, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]inventory.GatewayAPI, 0, len(raw))
	for _, api := range raw {
		out = append(out, inventory.GatewayAPI{Scope: c.scope(region), APIName: aws.ToString(api.Name), Kind: inventory.APIKindREST})
	}
	return out, nil
}

// httpAPIs crawls the API Gateway v2 (HTTP and WebSocket) APIs of one region.
func (c *crawl) httpAPIs(ctx context.Context, region string) ([]inventory.GatewayAPI, error) {
	rc := c.a.clients(region)
	op := opName("apigatewayv2", "GetApis", region)
	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[apigwv2types.Api], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*apigatewayv2.GetApisOutput, error) {
			return rc.httpAPI.GetApis(ctx, &apigatewayv2.GetApisInput{NextToken: token})
		})
		if err != nil {
			return pager.Page[apigwv2types.Api]{}, err
		}
		return pager.Page[apigwv2types.Api]{Items: out.Items, Next: out.NextToken}, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]inventory.GatewayAPI, 0, len(raw))
	for _, api := range raw {
		out = append(out, inventory.GatewayAPI{Scope: c.scope(region), APIName: aws.ToString(api.Name), Kind: inventory.APIKindHTTP})
	}
	return out, nil
}

// containerInstances crawls the ECS container instances of every cluster in
// one region.
func (c *crawl) containerInstances(ctx context.Context, region string) ([]inventory.ContainerInstance, error) {
	rc := c.a.clients(region)
	op := opName("ecs", "ListClusters", region)
	clusters, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[string], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*ecs.ListClustersOutput, error) {
			return rc.ecs.ListClusters(ctx, &ecs.ListClustersInput{NextToken: token})
		})
		if err != nil {
			return pager.Page[string]{}, err
		}
		return pager.Page[string]{Items: out.ClusterArns, Next: out.NextToken}, nil
	})
	if err != nil {
		return nil, err
	}

	var out []inventory.ContainerInstance
	op = opName("ecs", "ListContainerInstances", region)
	for _, cluster := range clusters {
		arns, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[string], error) {
			resp, err := call(ctx, c.a, op, func(ctx context.Context) (*ecs.ListContainerInstancesOutput, error) {
				return rc.ecs.ListContainerInstances(ctx, &ecs.ListContainerInstancesInput{
					Cluster:   aws.String(cluster),
					NextToken: token,
				})
			})
			if err != nil {
				return pager.Page[string]{}, err
			}
			return pager.Page[string]{Items: resp.ContainerInstanceArns, Next: resp.NextToken}, nil
		})
		if err != nil {
			return nil, err
		}
		for _, arn := range arns {
			out = append(out, inventory.ContainerInstance{
				Scope:                c.scope(region),
				ContainerInstanceArn: arn,
				ClusterArn:           cluster,
			})
		}
	}
	return out, nil
}

// containerClusters crawls the EKS clusters of one region.
func (c *crawl) containerClusters(ctx context.Context, region string) ([]inventory.ContainerCluster, error) {
	rc := c.a.clients(region)
	op := opName("eks", "ListClusters", region)
	names, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[string], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*eks.ListClustersOutput, error) {
			return rc.eks.ListClusters(ctx, &eks.ListClustersInput{NextToken: token})
		})
		if err != nil {
			return pager.Page[string]{}, err
		}
		return pager.Page[string]{Items: out.Clusters, Next: out.NextToken}, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]inventory.ContainerCluster, 0, len(names))
	op = opName("eks", "DescribeCluster", region)
	for _, name := range names {
		cl := inventory.ContainerCluster{Scope: c.scope(region), Name: name}
		desc, err := call(ctx, c.a, op, func(ctx context.Context) (*eks.DescribeClusterOutput, error) {
			return rc.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
		})
		if err != nil {
			return nil, err
		}
		if desc.Cluster != nil {
			cl.Version = aws.ToString(desc.Cluster.Version)
			cl.Status = string(desc.Cluster.Status)
		}
		out = append(out, cl)
	}
	return out, nil
}

// buckets crawls S3 buckets. The listing is global; each bucket is scoped to
// its own region.
func (c *crawl) buckets(ctx context.Context) ([]inventory.ObjectBucket, error) {
	op := opName("s3", "ListBuckets", "")
	out, err := call(ctx, c.a, op, func(ctx context.Context) (*s3.ListBucketsOutput, error) {
		return c.a.global.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
	})
	if err != nil {
		return nil, err
	}

	buckets := make([]inventory.ObjectBucket, 0, len(out.Buckets))
	op = opName("s3", "GetBucketLocation", "")
	for _, b := range out.Buckets {
		name := aws.ToString(b.Name)
		loc, err := call(ctx, c.a, op, func(ctx context.Context) (*s3.GetBucketLocationOutput, error) {
			return c.a.global.s3.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(name)})
		})
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, inventory.ObjectBucket{
			Scope:   c.scope(bucketRegion(string(loc.LocationConstraint))),
			Name:    name,
			Created: b.CreationDate,
		})
	}
	return buckets, nil
}

// bucketRegion maps a location constraint to a region; the empty constraint
// is us-east-1.
func bucketRegion(constraint string) string {
	switch constraint {
	case "":
		return "us-east-1"
	case "EU":
		return "eu-west-1"
	default:
		return constraint
	}
}

func nonZeroTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}
