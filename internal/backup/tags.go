// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backup

import (
	"context"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
)

// Provenance tags carried by every artifact this job creates. Cleanup
// is scoped to resources carrying the CreatedBy marker, so artifacts
// created by anything else are never touched.
const (
	createdByTagKey     = "CreatedBy"
	createdByTagValue   = "AutoBackupLambda"
	projectTagKey       = "Project"
	projectTagValue     = "Automated-DR-EC2-Backup"
	retentionDaysTagKey = "RetentionDays"

	instanceIDTagKey = "InstanceId"
	volumeIDTagKey   = "VolumeId"
	typeTagKey       = "Type"

	snapshotTypeTagValue = "EBS-Snapshot"
	imageTypeTagValue    = "AMI"
)

// tagResource attaches the job's provenance tags, plus any extra tags,
// to the given resource.
func (j *Job) tagResource(ctx context.Context, resourceID string, extra map[string]string) error {
	tags := []types.Tag{{
		Key:   aws.String(createdByTagKey),
		Value: aws.String(createdByTagValue),
	}, {
		Key:   aws.String(projectTagKey),
		Value: aws.String(projectTagValue),
	}, {
		Key:   aws.String(retentionDaysTagKey),
		Value: aws.String(strconv.Itoa(j.config.RetentionDays)),
	}}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, types.Tag{
			Key:   aws.String(k),
			Value: aws.String(extra[k]),
		})
	}

	err := callWithBackoff(ctx, j.clock, "tagging "+resourceID, func() error {
		_, err := j.client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{resourceID},
			Tags:      tags,
		})
		return err
	})
	return errors.Trace(err)
}
