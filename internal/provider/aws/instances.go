package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cmdb/internal/pager"
	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

const (
	removedImage    = "Removed Image"
	lookupSSM       = "SSM"
	stopInstances   = "StopInstances"
	ssmPageSize     = 50
	trailLookupSize = 50
)

// instances crawls the compute instances of one region. Listing failures are
// fatal for the account; enrichment lookups degrade.
func (c *crawl) instances(ctx context.Context, region string) ([]inventory.ServerDetails, error) {
	rc := c.a.clients(region)

	op := opName("ec2", "DescribeInstances", region)
	raw, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[ec2types.Instance], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*ec2.DescribeInstancesOutput, error) {
			return rc.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: token})
		})
		if err != nil {
			return pager.Page[ec2types.Instance]{}, err
		}
		var items []ec2types.Instance
		for _, r := range out.Reservations {
			items = append(items, r.Instances...)
		}
		return pager.Page[ec2types.Instance]{Items: items, Next: out.NextToken}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list instances in %s: %w", region, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	platforms, err := c.platforms(ctx, rc, region)
	if err != nil {
		return nil, err
	}
	volumes, err := provider.Optional(ctx, c.elog, opName("ec2", "DescribeVolumes", region), func(ctx context.Context) ([]ec2types.Volume, error) {
		return c.regionVolumes(ctx, rc, region)
	})
	if err != nil {
		return nil, err
	}
	images, err := c.imageDescriptions(ctx, rc, region, raw)
	if err != nil {
		return nil, err
	}

	volumeIndex := make(map[string]ec2types.Volume, len(volumes))
	for _, v := range volumes {
		volumeIndex[aws.ToString(v.VolumeId)] = v
	}

	servers := make([]inventory.ServerDetails, 0, len(raw))
	for _, inst := range raw {
		s := c.convertInstance(inst, region, platforms, volumeIndex, images)
		if s.Status == inventory.StatusStopped && s.StoppedFor30Days == inventory.StoppedUnknown && c.a.lookupStop {
			if err := c.stoppedSinceFromTrail(ctx, rc, region, &s); err != nil {
				return nil, err
			}
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func (c *crawl) convertInstance(inst ec2types.Instance, region string, platforms map[string]inventory.Platform, volumes map[string]ec2types.Volume, images map[string]string) inventory.ServerDetails {
	id := aws.ToString(inst.InstanceId)

	var status, reason string
	if inst.State != nil {
		status = string(inst.State.Name)
	}
	reason = aws.ToString(inst.StateTransitionReason)
	stopped := inventory.DeriveStopped(status, reason, c.now)

	imageID := aws.ToString(inst.ImageId)
	imageName, ok := images[imageID]
	if !ok {
		imageName = removedImage
	}

	var az string
	if inst.Placement != nil {
		az = aws.ToString(inst.Placement.AvailabilityZone)
	}

	return inventory.ServerDetails{
		Scope: inventory.Scope{
			AccountID: c.accountID,
			Region:    region,
			CloudType: inventory.CloudAWS,
		},
		ID:               id,
		Name:             nameTag(inst.Tags),
		Flavour:          string(inst.InstanceType),
		CPU:              vcpus(inst.CpuOptions),
		Tags:             ec2Tags(inst.Tags),
		Status:           status,
		Created:          inst.LaunchTime,
		StoppedDate:      stopped.Since,
		StoppedFor30Days: stopped.For30,
		StoppedFor90Days: stopped.For90,
		ImageID:          imageID,
		ImageName:        imageName,
		Platform:         platforms[id],
		AvailabilityZone: az,
		DataCentreType:   dataCentreType,
		IPv4Networks:     networks(inst),
		Volumes:          volumeDetails(inst.BlockDeviceMappings, volumes),
	}
}

// platforms maps instance id to the guest platform reported by the SSM agent.
func (c *crawl) platforms(ctx context.Context, rc *regionClients, region string) (map[string]inventory.Platform, error) {
	op := opName("ssm", "DescribeInstanceInformation", region)
	infos, err := provider.Optional(ctx, c.elog, op, func(ctx context.Context) ([]ssmtypes.InstanceInformation, error) {
		return pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[ssmtypes.InstanceInformation], error) {
			out, err := call(ctx, c.a, op, func(ctx context.Context) (*ssm.DescribeInstanceInformationOutput, error) {
				return rc.ssm.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
					MaxResults: aws.Int32(ssmPageSize),
					NextToken:  token,
				})
			})
			if err != nil {
				return pager.Page[ssmtypes.InstanceInformation]{}, err
			}
			return pager.Page[ssmtypes.InstanceInformation]{Items: out.InstanceInformationList, Next: out.NextToken}, nil
		})
	})
	if err != nil {
		return nil, err
	}

	platforms := make(map[string]inventory.Platform, len(infos))
	for _, info := range infos {
		platforms[aws.ToString(info.InstanceId)] = inventory.Platform{
			Name:         aws.ToString(info.PlatformName),
			Type:         string(info.PlatformType),
			Version:      aws.ToString(info.PlatformVersion),
			LookupMethod: lookupSSM,
		}
	}
	return platforms, nil
}

// imageDescriptions maps image id to description for the images in use.
func (c *crawl) imageDescriptions(ctx context.Context, rc *regionClients, region string, instances []ec2types.Instance) (map[string]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, inst := range instances {
		id := aws.ToString(inst.ImageId)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	op := opName("ec2", "DescribeImages", region)
	images := make(map[string]string)
	if len(ids) == 0 {
		return images, nil
	}

	_, err := provider.Optional(ctx, c.elog, op, func(ctx context.Context) ([]ec2types.Image, error) {
		found, err := pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[ec2types.Image], error) {
			out, err := call(ctx, c.a, op, func(ctx context.Context) (*ec2.DescribeImagesOutput, error) {
				return rc.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: ids, NextToken: token})
			})
			if err != nil {
				return pager.Page[ec2types.Image]{}, err
			}
			return pager.Page[ec2types.Image]{Items: out.Images, Next: out.NextToken}, nil
		})
		for _, img := range found {
			images[aws.ToString(img.ImageId)] = aws.ToString(img.Description)
		}
		return found, err
	})
	return images, err
}

// regionVolumes lists every volume of a region.
func (c *crawl) regionVolumes(ctx context.Context, rc *regionClients, region string) ([]ec2types.Volume, error) {
	op := opName("ec2", "DescribeVolumes", region)
	return pager.Collect(ctx, func(ctx context.Context, token *string) (pager.Page[ec2types.Volume], error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*ec2.DescribeVolumesOutput, error) {
			return rc.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: token})
		})
		if err != nil {
			return pager.Page[ec2types.Volume]{}, err
		}
		return pager.Page[ec2types.Volume]{Items: out.Volumes, Next: out.NextToken}, nil
	})
}

// stoppedSinceFromTrail resolves an unknown stop time from the most recent
// StopInstances event. Best effort.
func (c *crawl) stoppedSinceFromTrail(ctx context.Context, rc *regionClients, region string, s *inventory.ServerDetails) error {
	op := opName("cloudtrail", "LookupEvents", region)
	since, err := provider.Optional(ctx, c.elog, op, func(ctx context.Context) (*time.Time, error) {
		out, err := call(ctx, c.a, op, func(ctx context.Context) (*cloudtrail.LookupEventsOutput, error) {
			return rc.cloudtrail.LookupEvents(ctx, &cloudtrail.LookupEventsInput{
				LookupAttributes: []cttypes.LookupAttribute{{
					AttributeKey:   cttypes.LookupAttributeKeyResourceName,
					AttributeValue: aws.String(s.ID),
				}},
				MaxResults: aws.Int32(trailLookupSize),
			})
		})
		if err != nil {
			return nil, err
		}
		return latestStop(out.Events), nil
	})
	if err != nil || since == nil {
		return err
	}

	st := inventory.ApplyStoppedSince(inventory.StoppedState{Stopped: true}, *since, c.now)
	s.StoppedDate = st.Since
	s.StoppedFor30Days = st.For30
	s.StoppedFor90Days = st.For90
	log.Debug().Str("instance", s.ID).Time("stopped_since", *since).Msg("stop time resolved from cloudtrail")
	return nil
}

func latestStop(events []cttypes.Event) *time.Time {
	var latest *time.Time
	for _, e := range events {
		if aws.ToString(e.EventName) != stopInstances || e.EventTime == nil {
			continue
		}
		if latest == nil || e.EventTime.After(*latest) {
			t := e.EventTime.UTC()
			latest = &t
		}
	}
	return latest
}

// networks lists secondary private and non-primary public addresses per
// interface, then the primary private and public addresses.
func networks(inst ec2types.Instance) []inventory.IPv4Network {
	var nets []inventory.IPv4Network
	primaryPrivate := aws.ToString(inst.PrivateIpAddress)
	primaryPublic := aws.ToString(inst.PublicIpAddress)

	for _, ni := range inst.NetworkInterfaces {
		name := aws.ToString(ni.NetworkInterfaceId)
		if ni.Description != nil && *ni.Description != "" {
			name = fmt.Sprintf("%s (%s)", *ni.Description, name)
		}
		for _, addr := range ni.PrivateIpAddresses {
			ip := aws.ToString(addr.PrivateIpAddress)
			if ip != "" && ip != primaryPrivate {
				nets = append(nets, inventory.IPv4Network{Name: name, IPAddress: ip})
			}
		}
		if ni.Association != nil && ni.Association.PublicIp != nil {
			ip := aws.ToString(ni.Association.PublicIp)
			if ip != primaryPublic {
				nets = append(nets, inventory.IPv4Network{Name: name, IPAddress: ip})
			}
		}
	}

	if inst.PrivateIpAddress != nil {
		nets = append(nets, inventory.IPv4Network{Name: "PrivateIpAddress", IPAddress: primaryPrivate})
	}
	if inst.PublicIpAddress != nil {
		nets = append(nets, inventory.IPv4Network{Name: "PublicIpAddress", IPAddress: primaryPublic})
	}
	return nets
}

// volumeDetails joins block device mappings with the region volume list.
// A mapping whose volume is not listed keeps its id and device name only.
func volumeDetails(mappings []ec2types.InstanceBlockDeviceMapping, volumes map[string]ec2types.Volume) []inventory.VolumeDetail {
	var details []inventory.VolumeDetail
	for _, m := range mappings {
		if m.Ebs == nil {
			continue
		}
		id := aws.ToString(m.Ebs.VolumeId)
		d := inventory.VolumeDetail{ID: id, Label: aws.ToString(m.DeviceName)}
		if v, ok := volumes[id]; ok {
			d.Size = v.Size
			d.Type = string(v.VolumeType)
			d.Created = v.CreateTime
			d.IOPS = v.Iops
			d.Tags = make(map[string]string, len(v.Tags))
			for _, t := range v.Tags {
				d.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
		}
		details = append(details, d)
	}
	return details
}

func vcpus(opts *ec2types.CpuOptions) int {
	if opts == nil || opts.CoreCount == nil {
		return 0
	}
	threads := aws.ToInt32(opts.ThreadsPerCore)
	if threads <= 0 {
		threads = 1
	}
	return int(aws.ToInt32(opts.CoreCount) * threads)
}

func ec2Tags(tags []ec2types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

// nameTag returns the value of the Name tag, matched case-insensitively.
func nameTag(tags []ec2types.Tag) string {
	for _, t := range tags {
		if strings.EqualFold(aws.ToString(t.Key), "name") {
			return aws.ToString(t.Value)
		}
	}
	return ""
}
