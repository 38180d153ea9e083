package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// EC2API is the subset of the EC2 client used for instance lookups
type EC2API interface {
	DescribeInstanceTypes(ctx context.Context, in *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
}

// PricingAPI is the subset of the pricing client used for price lookups
type PricingAPI interface {
	GetProducts(ctx context.Context, in *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// GPUInfo describes the accelerators of an instance type
type GPUInfo struct {
	InstanceType string
	GPUType      string
	GPUs         int
	MemoryMiB    int
}

// InstanceChecker verifies that a training instance type carries GPUs
// and looks up its on-demand price
type InstanceChecker struct {
	ec2     EC2API
	pricing PricingAPI
	region  string
}

// NewInstanceChecker creates a new instance checker
func NewInstanceChecker(ec2Client EC2API, pricingClient PricingAPI, region string) *InstanceChecker {
	return &InstanceChecker{ec2: ec2Client, pricing: pricingClient, region: region}
}

// CheckGPU returns the accelerators of a SageMaker ("ml.") or EC2
// instance type, failing if it has none
func (c *InstanceChecker) CheckGPU(ctx context.Context, instanceType string) (*GPUInfo, error) {
	ec2Type := strings.TrimPrefix(instanceType, "ml.")
	out, err := c.ec2.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(ec2Type)},
	})
	if err != nil {
		return nil, fmt.Errorf("describe instance type %s: %w", ec2Type, err)
	}
	if len(out.InstanceTypes) == 0 {
		return nil, fmt.Errorf("unknown instance type %s", instanceType)
	}

	gpu := out.InstanceTypes[0].GpuInfo
	if gpu == nil || len(gpu.Gpus) == 0 {
		return nil, fmt.Errorf("instance type %s has no GPUs", instanceType)
	}

	info := &GPUInfo{
		InstanceType: instanceType,
		GPUType:      aws.ToString(gpu.Gpus[0].Name),
		MemoryMiB:    int(aws.ToInt32(gpu.TotalGpuMemoryInMiB)),
	}
	for _, d := range gpu.Gpus {
		info.GPUs += int(aws.ToInt32(d.Count))
	}
	return info, nil
}

// HourlyPrice returns the on-demand USD price of a SageMaker training instance
func (c *InstanceChecker) HourlyPrice(ctx context.Context, instanceType string) (float64, error) {
	out, err := c.pricing.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonSageMaker"),
		Filters: []pricingtypes.Filter{
			termMatch("instanceName", instanceType),
			termMatch("regionCode", c.region),
			termMatch("component", "Training"),
		},
		MaxResults: aws.Int32(10),
	})
	if err != nil {
		return 0, fmt.Errorf("get products for %s: %w", instanceType, err)
	}

	for _, doc := range out.PriceList {
		if price, ok := onDemandUSD(doc); ok {
			return price, nil
		}
	}
	return 0, fmt.Errorf("no on-demand price for %s in %s", instanceType, c.region)
}

func termMatch(field, value string) pricingtypes.Filter {
	return pricingtypes.Filter{
		Type:  pricingtypes.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

// priceListItem is the part of a price list document we read
type priceListItem struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

func onDemandUSD(doc string) (float64, bool) {
	var item priceListItem
	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return 0, false
	}
	for _, term := range item.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(usd, 64)
			if err == nil && v > 0 {
				return v, true
			}
		}
	}
	return 0, false
}
