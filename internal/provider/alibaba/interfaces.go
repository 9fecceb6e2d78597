package alibaba

import (
	"github.com/aliyun/alibaba-cloud-sdk-go/services/ecs"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/ram"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/sts"
)

// ECSAPI is the subset of the ECS client used by the adapter.
type ECSAPI interface {
	DescribeRegions(request *ecs.DescribeRegionsRequest) (*ecs.DescribeRegionsResponse, error)
	DescribeInstances(request *ecs.DescribeInstancesRequest) (*ecs.DescribeInstancesResponse, error)
}

// STSAPI is the subset of the STS client used by the adapter.
type STSAPI interface {
	GetCallerIdentity(request *sts.GetCallerIdentityRequest) (*sts.GetCallerIdentityResponse, error)
}

// RAMAPI is the subset of the RAM client used by the adapter.
type RAMAPI interface {
	GetAccountAlias(request *ram.GetAccountAliasRequest) (*ram.GetAccountAliasResponse, error)
	ListUsers(request *ram.ListUsersRequest) (*ram.ListUsersResponse, error)
}

// clientProfile is the immutable credential and region set one client is
// built from. Every crawl unit builds its own clients from a copy; nothing
// is shared between units.
type clientProfile struct {
	region          string
	accessKeyID     string
	accessKeySecret string
}

func (p clientProfile) inRegion(region string) clientProfile {
	p.region = region
	return p
}

// clientFactory builds fresh SDK clients from a profile.
type clientFactory struct {
	ecs func(p clientProfile) (ECSAPI, error)
	sts func(p clientProfile) (STSAPI, error)
	ram func(p clientProfile) (RAMAPI, error)
}

func sdkClients() clientFactory {
	return clientFactory{
		ecs: func(p clientProfile) (ECSAPI, error) {
			return ecs.NewClientWithAccessKey(p.region, p.accessKeyID, p.accessKeySecret)
		},
		sts: func(p clientProfile) (STSAPI, error) {
			return sts.NewClientWithAccessKey(p.region, p.accessKeyID, p.accessKeySecret)
		},
		ram: func(p clientProfile) (RAMAPI, error) {
			return ram.NewClientWithAccessKey(p.region, p.accessKeyID, p.accessKeySecret)
		},
	}
}
