// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backup

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
)

// instances returns every instance carrying the configured backup tag
// that is running or stopped. Terminated and terminating instances are
// excluded by the state filter. Results are followed across pages
// until the token is exhausted.
func (j *Job) instances(ctx context.Context) ([]types.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{
			Name:   aws.String("tag:" + j.config.TagKey),
			Values: []string{j.config.TagValue},
		}, {
			Name:   aws.String("instance-state-name"),
			Values: []string{"running", "stopped"},
		}},
	}

	var instances []types.Instance
	for {
		resp, err := j.client.DescribeInstances(ctx, input)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, reservation := range resp.Reservations {
			instances = append(instances, reservation.Instances...)
		}
		if resp.NextToken == nil {
			break
		}
		input.NextToken = resp.NextToken
	}
	return instances, nil
}
