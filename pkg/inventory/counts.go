package inventory

import "sort"

// Resource kinds used in counts and metrics.
const (
	KindServer            = "server"
	KindUser              = "user"
	KindVolume            = "volume"
	KindDatabase          = "database"
	KindRestAPI           = "rest_api"
	KindHTTPAPI           = "http_api"
	KindFunction          = "function"
	KindTable             = "table"
	KindContainerInstance = "container_instance"
	KindContainerCluster  = "container_cluster"
	KindBucket            = "bucket"
)

// KindCount is the number of resources of one kind in one region.
type KindCount struct {
	Kind   string `json:"kind" yaml:"kind"`
	Region string `json:"region" yaml:"region"`
	Count  int    `json:"count" yaml:"count"`
}

// KindCounts returns the resource counts of the account by kind and region,
// sorted by kind then region. Kinds with no resources are left out.
func (a *Account) KindCounts() []KindCount {
	counts := make(map[[2]string]int)
	add := func(kind string, s Scope) { counts[[2]string{kind, s.Region}]++ }

	for _, g := range a.ServerGroups {
		for _, s := range g.Servers {
			add(KindServer, s.Scope)
		}
	}
	for _, r := range a.Users {
		add(KindUser, r.Scope)
	}
	for _, r := range a.Volumes {
		add(KindVolume, r.Scope)
	}
	for _, r := range a.Databases {
		add(KindDatabase, r.Scope)
	}
	for _, r := range a.RestAPIs {
		add(KindRestAPI, r.Scope)
	}
	for _, r := range a.HTTPAPIs {
		add(KindHTTPAPI, r.Scope)
	}
	for _, r := range a.Functions {
		add(KindFunction, r.Scope)
	}
	for _, r := range a.Tables {
		add(KindTable, r.Scope)
	}
	for _, r := range a.ContainerInstances {
		add(KindContainerInstance, r.Scope)
	}
	for _, r := range a.ContainerClusters {
		add(KindContainerCluster, r.Scope)
	}
	for _, r := range a.Buckets {
		add(KindBucket, r.Scope)
	}

	out := make([]KindCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, KindCount{Kind: k[0], Region: k[1], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Region < out[j].Region
	})
	return out
}
