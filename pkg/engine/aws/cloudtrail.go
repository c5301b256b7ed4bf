package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
)

// TrailAPI is the read-only CloudTrail subset the detector needs.
type TrailAPI interface {
	GetTrail(ctx context.Context, params *cloudtrail.GetTrailInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.GetTrailOutput, error)
}

// CloudTrailClient queries audit trails.
type CloudTrailClient struct {
	Client TrailAPI
}

func NewCloudTrailClient(cfg aws.Config) *CloudTrailClient {
	return &CloudTrailClient{
		Client: cloudtrail.NewFromConfig(cfg),
	}
}

// TrailTarget is where a trail delivers its log archives.
type TrailTarget struct {
	Name       string
	Bucket     string
	KeyPrefix  string
	HomeRegion string
}

// Layout prefixes a partition key layout with the trail's S3 key prefix.
func (t TrailTarget) Layout(base string) string {
	p := strings.Trim(t.KeyPrefix, "/")
	if p == "" {
		return base
	}
	return p + "/" + base
}

// DescribeTrail resolves the S3 bucket a trail writes to.
func (c *CloudTrailClient) DescribeTrail(ctx context.Context, name string) (TrailTarget, error) {
	if name == "" {
		return TrailTarget{}, errors.New("trail name is empty")
	}
	out, err := c.Client.GetTrail(ctx, &cloudtrail.GetTrailInput{Name: aws.String(name)})
	if err != nil {
		return TrailTarget{}, fmt.Errorf("get trail %s: %w", name, err)
	}
	if out.Trail == nil || aws.ToString(out.Trail.S3BucketName) == "" {
		return TrailTarget{}, fmt.Errorf("trail %s has no S3 bucket", name)
	}
	return TrailTarget{
		Name:       aws.ToString(out.Trail.Name),
		Bucket:     aws.ToString(out.Trail.S3BucketName),
		KeyPrefix:  aws.ToString(out.Trail.S3KeyPrefix),
		HomeRegion: aws.ToString(out.Trail.HomeRegion),
	}, nil
}
