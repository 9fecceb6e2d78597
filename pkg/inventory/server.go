package inventory

import "time"

// ServerDetails is the canonical compute instance record.
//
// IsDirty is owned by the reconciliation engine; adapters leave it false.
type ServerDetails struct {
	Scope `yaml:",inline"`

	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Flavour          string            `json:"flavour" yaml:"flavour"`
	CPU              int               `json:"cpu" yaml:"cpu"`
	RAM              float64           `json:"ram" yaml:"ram"`
	Tags             map[string]string `json:"tags" yaml:"tags"`
	Status           string            `json:"status" yaml:"status"`
	Created          *time.Time        `json:"created" yaml:"created"`
	Updated          *time.Time        `json:"updated" yaml:"updated"`
	Terminated       *time.Time        `json:"terminated" yaml:"terminated"`
	Deleted          *time.Time        `json:"deleted" yaml:"deleted"`
	StoppedDate      *time.Time        `json:"stoppedDate" yaml:"stoppedDate"`
	StoppedFor30Days StoppedFlag       `json:"stoppedFor30Days" yaml:"stoppedFor30Days"`
	StoppedFor90Days StoppedFlag       `json:"stoppedFor90Days" yaml:"stoppedFor90Days"`
	IsDirty          bool              `json:"isDirty" yaml:"isDirty"`
	CreatorEmail     string            `json:"creatorEmail,omitempty" yaml:"creatorEmail,omitempty"`
	ImageID          string            `json:"imageId" yaml:"imageId"`
	ImageName        string            `json:"imageName" yaml:"imageName"`
	Platform         Platform          `json:"platform" yaml:"platform"`
	AvailabilityZone string            `json:"availabilityZone" yaml:"availabilityZone"`
	DataCentreType   string            `json:"dataCentreType" yaml:"dataCentreType"`
	IPv4Networks     []IPv4Network     `json:"ipv4Networks" yaml:"ipv4Networks"`
	Volumes          []VolumeDetail    `json:"volumes" yaml:"volumes"`
}

// Platform describes the guest operating system as reported by an agent.
type Platform struct {
	Name         string `json:"name" yaml:"name"`
	Type         string `json:"type" yaml:"type"`
	Version      string `json:"version" yaml:"version"`
	LookupMethod string `json:"lookupMethod" yaml:"lookupMethod"`
}

// UnknownPlatform is used when no agent reported for the instance.
var UnknownPlatform = Platform{Name: "NA", Type: "NA", Version: "NA"}

// VolumeDetail is a volume attached to a server.
type VolumeDetail struct {
	ID      string            `json:"id" yaml:"id"`
	Label   string            `json:"label" yaml:"label"`
	Size    *int32            `json:"size" yaml:"size"`
	Type    string            `json:"type" yaml:"type"`
	Created *time.Time        `json:"created" yaml:"created"`
	IOPS    *int32            `json:"iops" yaml:"iops"`
	Tags    map[string]string `json:"tags" yaml:"tags"`
}

// IPv4Network is one address bound to a server.
type IPv4Network struct {
	Name      string `json:"name" yaml:"name"`
	IPAddress string `json:"ipAddress" yaml:"ipAddress"`
}
