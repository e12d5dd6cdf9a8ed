// Package zonesource discovers cloud availability zones used to seed a
// spot placer's zone set at service bootstrap. It is never consulted
// from inside Evaluate: the core only ever sees the resulting []string
// through a ServiceSpec or placer constructor.
package zonesource

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/fleetscaler/engine/internal/domain"
)

// ZoneSource looks up the zones available for spot placement.
type ZoneSource interface {
	Zones(ctx context.Context) ([]string, error)
}

// EC2ZoneSource queries AWS EC2 DescribeAvailabilityZones filtered to
// a configured region.
type EC2ZoneSource struct {
	client *ec2.Client
	region string
}

// NewEC2ZoneSource loads the default AWS config (env vars, shared
// config, or instance profile credentials) scoped to region and
// constructs an EC2 client.
func NewEC2ZoneSource(ctx context.Context, region string) (*EC2ZoneSource, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EC2ZoneSource{client: ec2.NewFromConfig(cfg), region: region}, nil
}

// Zones returns the names of all available (non-impaired) availability
// zones in the configured region.
func (s *EC2ZoneSource) Zones(ctx context.Context) ([]string, error) {
	out, err := s.client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []types.Filter{
			{Name: aws.String("region-name"), Values: []string{s.region}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("describe availability zones: %w", err)
	}
	zones := make([]string, 0, len(out.AvailabilityZones))
	for _, az := range out.AvailabilityZones {
		if az.ZoneName != nil {
			zones = append(zones, *az.ZoneName)
		}
	}
	return zones, nil
}

// Catalog fetches zones from source and wraps them as a ZoneCatalog
// for merging into a ServiceSpec at bootstrap.
func Catalog(ctx context.Context, source ZoneSource, sourceName string, now func() time.Time) (domain.ZoneCatalog, error) {
	zones, err := source.Zones(ctx)
	if err != nil {
		return domain.ZoneCatalog{}, err
	}
	return domain.ZoneCatalog{Zones: zones, Source: sourceName, FetchedAt: now()}, nil
}
