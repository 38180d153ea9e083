// Package aws submits training jobs and sweeps to SageMaker and checks
// instance types against EC2 and the pricing catalog
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
)

// pricingRegion hosts the AWS price list API
const pricingRegion = "us-east-1"

// Client is the AWS provider client
type Client struct {
	cfg             aws.Config
	sagemakerClient *sagemaker.Client
	ec2Client       *ec2.Client
	pricingClient   *pricing.Client
	region          string
}

// NewClient creates a new AWS client for region
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:             cfg,
		sagemakerClient: sagemaker.NewFromConfig(cfg),
		ec2Client:       ec2.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			o.Region = pricingRegion
		}),
		region: region,
	}, nil
}

// InstanceChecker returns a checker backed by this client
func (c *Client) InstanceChecker() *InstanceChecker {
	return NewInstanceChecker(c.ec2Client, c.pricingClient, c.region)
}

// SageMaker returns the SageMaker API client
func (c *Client) SageMaker() *sagemaker.Client {
	return c.sagemakerClient
}
