package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// Resource ID scheme for the AWS client: "<service>:<native id>",
// e.g. "ec2:i-0abc123" or "s3:my-bucket".
const (
	kindEC2 = "ec2"
	kindS3  = "s3"
)

// AWSClient implements ResourceClient against EC2 and S3.
type AWSClient struct {
	ec2    *ec2.Client
	s3     *s3.Client
	logger *zap.Logger
}

// NewAWSClient creates an AWS-backed client using the default credential chain.
func NewAWSClient(ctx context.Context, region string, logger *zap.Logger) (*AWSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWSClient{
		ec2:    ec2.NewFromConfig(cfg),
		s3:     s3.NewFromConfig(cfg),
		logger: logger,
	}, nil
}

func splitResourceID(id string) (kind, native string, err error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: malformed resource id %q", ErrResourceNotFound, id)
	}
	return parts[0], parts[1], nil
}

// GetResource fetches the current configuration of an EC2 instance or S3 bucket.
func (c *AWSClient) GetResource(ctx context.Context, id string) (*Resource, error) {
	kind, native, err := splitResourceID(id)
	if err != nil {
		return nil, err
	}

	switch kind {
	case kindEC2:
		return c.getInstance(ctx, id, native)
	case kindS3:
		return c.getBucket(ctx, id, native)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

// UpdateResource writes supported property keys back to the resource.
// Unknown keys are ignored so a restore of a wider snapshot never fails on
// read-only attributes.
func (c *AWSClient) UpdateResource(ctx context.Context, id string, props Properties) error {
	kind, native, err := splitResourceID(id)
	if err != nil {
		return err
	}

	switch kind {
	case kindEC2:
		return c.updateInstance(ctx, native, props)
	case kindS3:
		return c.updateBucket(ctx, native, props)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

func (c *AWSClient) getInstance(ctx context.Context, id, instanceID string) (*Resource, error) {
	resp, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}

	inst := resp.Reservations[0].Instances[0]
	tags := make(map[string]string, len(inst.Tags))
	for _, t := range inst.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}

	props := Properties{
		"instance_type": string(inst.InstanceType),
		"state":         string(inst.State.Name),
		"tags":          tags,
	}
	if inst.Monitoring != nil {
		props["detailed_monitoring"] = inst.Monitoring.State == ec2types.MonitoringStateEnabled
	}
	if inst.MetadataOptions != nil {
		props["imdsv2_required"] = inst.MetadataOptions.HttpTokens == ec2types.HttpTokensStateRequired
	}

	return &Resource{ID: id, Type: "aws_instance", Properties: props, Tags: tags}, nil
}

func (c *AWSClient) updateInstance(ctx context.Context, instanceID string, props Properties) error {
	if tags, ok := props["tags"].(map[string]string); ok && len(tags) > 0 {
		ec2Tags := make([]ec2types.Tag, 0, len(tags))
		for k, v := range tags {
			ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		if _, err := c.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{instanceID},
			Tags:      ec2Tags,
		}); err != nil {
			return fmt.Errorf("failed to tag instance %s: %w", instanceID, err)
		}
	}

	if required, ok := props["imdsv2_required"].(bool); ok {
		tokens := ec2types.HttpTokensStateOptional
		if required {
			tokens = ec2types.HttpTokensStateRequired
		}
		if _, err := c.ec2.ModifyInstanceMetadataOptions(ctx, &ec2.ModifyInstanceMetadataOptionsInput{
			InstanceId: aws.String(instanceID),
			HttpTokens: tokens,
		}); err != nil {
			return fmt.Errorf("failed to update metadata options for %s: %w", instanceID, err)
		}
	}

	c.logger.Debug("instance updated", zap.String("instance_id", instanceID))
	return nil
}

func (c *AWSClient) getBucket(ctx context.Context, id, bucket string) (*Resource, error) {
	props := Properties{}

	// Encryption config is absent on unencrypted buckets; treat the error as
	// "none" rather than failing the read.
	if enc, err := c.s3.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{
		Bucket: aws.String(bucket),
	}); err == nil && enc.ServerSideEncryptionConfiguration != nil && len(enc.ServerSideEncryptionConfiguration.Rules) > 0 {
		rule := enc.ServerSideEncryptionConfiguration.Rules[0]
		if rule.ApplyServerSideEncryptionByDefault != nil {
			props["encryption"] = string(rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm)
		}
	} else {
		props["encryption"] = "none"
	}

	ver, err := c.s3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read versioning for bucket %s: %w", bucket, err)
	}
	props["versioning"] = ver.Status == s3types.BucketVersioningStatusEnabled

	if pab, err := c.s3.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{
		Bucket: aws.String(bucket),
	}); err == nil && pab.PublicAccessBlockConfiguration != nil {
		props["block_public_access"] = aws.ToBool(pab.PublicAccessBlockConfiguration.BlockPublicAcls) &&
			aws.ToBool(pab.PublicAccessBlockConfiguration.RestrictPublicBuckets)
	} else {
		props["block_public_access"] = false
	}

	return &Resource{ID: id, Type: "aws_s3_bucket", Properties: props}, nil
}

func (c *AWSClient) updateBucket(ctx context.Context, bucket string, props Properties) error {
	if alg, ok := props["encryption"].(string); ok && alg != "" && alg != "none" {
		if _, err := c.s3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
			Bucket: aws.String(bucket),
			ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
				Rules: []s3types.ServerSideEncryptionRule{{
					ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
						SSEAlgorithm: s3types.ServerSideEncryption(alg),
					},
				}},
			},
		}); err != nil {
			return fmt.Errorf("failed to set encryption on bucket %s: %w", bucket, err)
		}
	}

	if enabled, ok := props["versioning"].(bool); ok {
		status := s3types.BucketVersioningStatusSuspended
		if enabled {
			status = s3types.BucketVersioningStatusEnabled
		}
		if _, err := c.s3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: aws.String(bucket),
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: status,
			},
		}); err != nil {
			return fmt.Errorf("failed to set versioning on bucket %s: %w", bucket, err)
		}
	}

	if block, ok := props["block_public_access"].(bool); ok && block {
		if _, err := c.s3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
			Bucket: aws.String(bucket),
			PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
				BlockPublicAcls:       aws.Bool(true),
				BlockPublicPolicy:     aws.Bool(true),
				IgnorePublicAcls:      aws.Bool(true),
				RestrictPublicBuckets: aws.Bool(true),
			},
		}); err != nil {
			return fmt.Errorf("failed to block public access on bucket %s: %w", bucket, err)
		}
	}

	c.logger.Debug("bucket updated", zap.String("bucket", bucket))
	return nil
}
