// Package inventory defines the canonical cloud inventory model.
// Every provider adapter emits these types and nothing else.
package inventory

import "time"

// Cloud types stamped on every entity.
const (
	CloudAWS     = "AWS"
	CloudAlibaba = "Alibaba"
)

// Scope identifies where an entity lives. It is the join key used across
// providers; no entity crosses accounts.
type Scope struct {
	AccountID string `json:"accountId" yaml:"accountId"`
	Region    string `json:"region" yaml:"region"`
	CloudType string `json:"cloudType" yaml:"cloudType"`
}

// Account is one crawled billing/management boundary. It is built fresh by
// every crawl and is not mutated once the adapter returns it.
type Account struct {
	AccountID      string            `json:"accountId" yaml:"accountId"`
	AccountName    string            `json:"accountName" yaml:"accountName"`
	DataCentreType string            `json:"dataCentreType" yaml:"dataCentreType"`
	Tags           map[string]string `json:"tags" yaml:"tags"`

	ServerGroups       []ServerGroup       `json:"serverGroups" yaml:"serverGroups"`
	Users              []CloudUser         `json:"users" yaml:"users"`
	Volumes            []CloudVolume       `json:"volumes" yaml:"volumes"`
	Databases          []CloudDatabase     `json:"databases" yaml:"databases"`
	RestAPIs           []GatewayAPI        `json:"restApis" yaml:"restApis"`
	HTTPAPIs           []GatewayAPI        `json:"httpApis" yaml:"httpApis"`
	Functions          []LambdaFunction    `json:"functions" yaml:"functions"`
	Tables             []DynamoTable       `json:"tables" yaml:"tables"`
	ContainerInstances []ContainerInstance `json:"containerInstances" yaml:"containerInstances"`
	ContainerClusters  []ContainerCluster  `json:"containerClusters" yaml:"containerClusters"`
	Buckets            []ObjectBucket      `json:"buckets" yaml:"buckets"`
}

// NewAccount returns an account with its collections initialised.
func NewAccount(id, name, dataCentreType string) *Account {
	return &Account{
		AccountID:      id,
		AccountName:    name,
		DataCentreType: dataCentreType,
		Tags:           make(map[string]string),
	}
}

// Servers returns every server across all groups, in group order.
func (a *Account) Servers() []*ServerDetails {
	var servers []*ServerDetails
	for i := range a.ServerGroups {
		for j := range a.ServerGroups[i].Servers {
			servers = append(servers, &a.ServerGroups[i].Servers[j])
		}
	}
	return servers
}

// ServerCount returns the number of servers across all groups.
func (a *Account) ServerCount() int {
	n := 0
	for _, g := range a.ServerGroups {
		n += len(g.Servers)
	}
	return n
}

// ServerGroup is the region-scoped bucket of servers for one account.
type ServerGroup struct {
	AccountID string          `json:"accountId" yaml:"accountId"`
	GroupID   string          `json:"groupId" yaml:"groupId"`
	GroupName string          `json:"groupName" yaml:"groupName"`
	Region    string          `json:"region" yaml:"region"`
	Servers   []ServerDetails `json:"servers" yaml:"servers"`
}

// CloudDatabase is a managed database instance or cluster.
type CloudDatabase struct {
	Scope `yaml:",inline"`

	ID                                 string            `json:"id" yaml:"id"`
	Name                               string            `json:"name" yaml:"name"`
	Engine                             string            `json:"engine" yaml:"engine"`
	Version                            string            `json:"version" yaml:"version"`
	AvailabilityZone                   string            `json:"availabilityZone" yaml:"availabilityZone"`
	InstanceType                       string            `json:"instanceType" yaml:"instanceType"`
	CertificateAuthority               string            `json:"certificateAuthority,omitempty" yaml:"certificateAuthority,omitempty"`
	CertificateAuthorityExpirationDate *time.Time        `json:"certificateAuthorityExpirationDate" yaml:"certificateAuthorityExpirationDate"`
	CertificateExpirationDate          *time.Time        `json:"certificateExpirationDate" yaml:"certificateExpirationDate"`
	CertificateExpiration90DayWarning  *bool             `json:"certificateExpiration90DayWarning" yaml:"certificateExpiration90DayWarning"`
	Encrypted                          *bool             `json:"encrypted" yaml:"encrypted"`
	Tags                               map[string]string `json:"tags" yaml:"tags"`
	AllocatedStorage                   *int32            `json:"allocatedStorage" yaml:"allocatedStorage"`
	MaxAllocatedStorage                *int32            `json:"maxAllocatedStorage" yaml:"maxAllocatedStorage"`
	FreeStorageSpace                   *float64          `json:"freeStorageSpace" yaml:"freeStorageSpace"`
}

// CloudUser is an identity principal. Users are global, Region is empty.
type CloudUser struct {
	Scope `yaml:",inline"`

	ID               string     `json:"id" yaml:"id"`
	User             string     `json:"user" yaml:"user"`
	Email            string     `json:"email,omitempty" yaml:"email,omitempty"`
	ConsoleAccess    *bool      `json:"consoleAccess" yaml:"consoleAccess"`
	CreateDate       *time.Time `json:"createDate" yaml:"createDate"`
	UpdateDate       *time.Time `json:"updateDate" yaml:"updateDate"`
	PasswordLastUsed *time.Time `json:"passwordLastUsed" yaml:"passwordLastUsed"`
}

// CloudVolume is a block storage volume.
type CloudVolume struct {
	Scope `yaml:",inline"`

	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	Encrypted *bool  `json:"encrypted" yaml:"encrypted"`
}

// LambdaFunction is a serverless function.
type LambdaFunction struct {
	Scope `yaml:",inline"`

	FunctionName string `json:"functionName" yaml:"functionName"`
}

// DynamoTable is a managed key/value table.
type DynamoTable struct {
	Scope `yaml:",inline"`

	TableName string `json:"tableName" yaml:"tableName"`
}

// Gateway API kinds.
const (
	APIKindREST = "rest"
	APIKindHTTP = "http"
)

// GatewayAPI is an API gateway definition.
type GatewayAPI struct {
	Scope `yaml:",inline"`

	APIName string `json:"apiName" yaml:"apiName"`
	Kind    string `json:"kind" yaml:"kind"`
}

// ContainerInstance is a member of a container cluster.
type ContainerInstance struct {
	Scope `yaml:",inline"`

	ContainerInstanceArn string `json:"containerInstanceArn" yaml:"containerInstanceArn"`
	ClusterArn           string `json:"clusterArn" yaml:"clusterArn"`
}

// ContainerCluster is a managed Kubernetes control plane.
type ContainerCluster struct {
	Scope `yaml:",inline"`

	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Status  string `json:"status" yaml:"status"`
}

// ObjectBucket is an object storage bucket.
type ObjectBucket struct {
	Scope `yaml:",inline"`

	Name    string     `json:"name" yaml:"name"`
	Created *time.Time `json:"created" yaml:"created"`
}

// ItemSummary is the minimal persisted projection used for diffing.
// Deleted is only set when soft-deleted rows were loaded as well.
type ItemSummary struct {
	LastUpdated *time.Time
	Deleted     *time.Time
}
