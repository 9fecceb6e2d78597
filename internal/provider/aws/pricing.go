package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

// sizing is the cpu and memory of one instance type.
type sizing struct {
	VCPU     int
	MemoryGi float64
}

type priceListProduct struct {
	Product struct {
		Attributes struct {
			InstanceType string `json:"instanceType"`
			VCPU         string `json:"vcpu"`
			Memory       string `json:"memory"`
		} `json:"attributes"`
	} `json:"product"`
}

// sizings looks up cpu and memory for every distinct flavour. Flavours with
// no price-list entry are left out.
func (c *crawl) sizings(ctx context.Context, flavours []string) (map[string]sizing, error) {
	out := make(map[string]sizing, len(flavours))
	for _, flavour := range flavours {
		op := opName("pricing", "GetProducts", flavour)
		s, err := provider.Optional(ctx, c.elog, op, func(ctx context.Context) (*sizing, error) {
			resp, err := call(ctx, c.a, op, func(ctx context.Context) (*pricing.GetProductsOutput, error) {
				return c.a.global.pricing.GetProducts(ctx, &pricing.GetProductsInput{
					ServiceCode: aws.String("AmazonEC2"),
					Filters: []pricingtypes.Filter{{
						Type:  pricingtypes.FilterTypeTermMatch,
						Field: aws.String("instanceType"),
						Value: aws.String(flavour),
					}},
					MaxResults: aws.Int32(1),
				})
			})
			if err != nil {
				return nil, err
			}
			if len(resp.PriceList) == 0 {
				return nil, nil
			}
			return parsePriceList(resp.PriceList[0])
		})
		if err != nil {
			return nil, err
		}
		if s != nil {
			out[flavour] = *s
		}
	}
	return out, nil
}

// applySizing overwrites cpu and ram for servers whose flavour was priced.
func applySizing(servers []*inventory.ServerDetails, sizes map[string]sizing) {
	for _, s := range servers {
		if sz, ok := sizes[s.Flavour]; ok {
			s.CPU = sz.VCPU
			s.RAM = sz.MemoryGi
		}
	}
}

func distinctFlavours(servers []*inventory.ServerDetails) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range servers {
		if s.Flavour != "" && !seen[s.Flavour] {
			seen[s.Flavour] = true
			out = append(out, s.Flavour)
		}
	}
	sort.Strings(out)
	return out
}

func parsePriceList(doc string) (*sizing, error) {
	var p priceListProduct
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode price list: %w", err)
	}
	attrs := p.Product.Attributes

	vcpu, err := strconv.Atoi(strings.TrimSpace(attrs.VCPU))
	if err != nil {
		return nil, fmt.Errorf("parse vcpu %q: %w", attrs.VCPU, err)
	}
	mem, err := parseMemory(attrs.Memory)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("flavour", attrs.InstanceType).Int("vcpu", vcpu).Float64("memory_gib", mem).Msg("price list sizing")
	return &sizing{VCPU: vcpu, MemoryGi: mem}, nil
}

// parseMemory reads price-list memory strings such as "16 GiB",
// "0.5 GiB" or "1,952 GiB" into GiB.
func parseMemory(s string) (float64, error) {
	v := strings.TrimSpace(s)
	unit := 1.0
	switch {
	case strings.HasSuffix(v, "TiB"):
		unit = 1024
		v = strings.TrimSuffix(v, "TiB")
	case strings.HasSuffix(v, "GiB"):
		v = strings.TrimSuffix(v, "GiB")
	case strings.HasSuffix(v, "MiB"):
		unit = 1.0 / 1024
		v = strings.TrimSuffix(v, "MiB")
	}
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse memory %q: %w", s, err)
	}
	return f * unit, nil
}
