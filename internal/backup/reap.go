// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backup

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
)

// reapSnapshots deletes snapshots created by this job whose start time
// is strictly before cutoff. A snapshot starting exactly at cutoff is
// retained. Deletion failures are logged and do not stop processing of
// the remaining snapshots; a listing failure aborts.
func (j *Job) reapSnapshots(ctx context.Context, cutoff time.Time) ([]string, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
		Filters: []types.Filter{{
			Name:   aws.String("tag:" + createdByTagKey),
			Values: []string{createdByTagValue},
		}},
	}

	deleted := []string{}
	for {
		resp, err := j.client.DescribeSnapshots(ctx, input)
		if err != nil {
			return deleted, errors.Trace(err)
		}
		for _, snapshot := range resp.Snapshots {
			if snapshot.StartTime == nil || !snapshot.StartTime.Before(cutoff) {
				continue
			}
			snapshotID := aws.ToString(snapshot.SnapshotId)
			if err := j.deleteSnapshot(ctx, snapshotID); err != nil {
				logger.Errorf("cannot delete snapshot %s: %v", snapshotID, err)
				continue
			}
			deleted = append(deleted, snapshotID)
		}
		if resp.NextToken == nil {
			break
		}
		input.NextToken = resp.NextToken
	}
	return deleted, nil
}

// reapImages deregisters images created by this job whose creation
// date is strictly before cutoff, then deletes their backing
// snapshots. The backing snapshots of an image are only deleted once
// the image itself has been deregistered; if deregistration fails the
// snapshots are left alone since the image still references them.
func (j *Job) reapImages(ctx context.Context, cutoff time.Time) (deregistered, deleted []string, _ error) {
	input := &ec2.DescribeImagesInput{
		Owners: []string{"self"},
		Filters: []types.Filter{{
			Name:   aws.String("tag:" + createdByTagKey),
			Values: []string{createdByTagValue},
		}},
	}

	deregistered, deleted = []string{}, []string{}
	for {
		resp, err := j.client.DescribeImages(ctx, input)
		if err != nil {
			return deregistered, deleted, errors.Trace(err)
		}
		for _, image := range resp.Images {
			imageID := aws.ToString(image.ImageId)
			created, err := time.Parse(time.RFC3339, aws.ToString(image.CreationDate))
			if err != nil {
				logger.Warningf("image %s has malformed creation date %q, skipping",
					imageID, aws.ToString(image.CreationDate))
				continue
			}
			if !created.Before(cutoff) {
				continue
			}

			// The block device mappings are gone once the image is
			// deregistered, so collect the backing snapshots first.
			var backing []string
			for _, mapping := range image.BlockDeviceMappings {
				if mapping.Ebs != nil && mapping.Ebs.SnapshotId != nil {
					backing = append(backing, *mapping.Ebs.SnapshotId)
				}
			}

			err = callWithBackoff(ctx, j.clock, "deregistering image "+imageID, func() error {
				_, err := j.client.DeregisterImage(ctx, &ec2.DeregisterImageInput{
					ImageId: image.ImageId,
				})
				return err
			})
			if err != nil {
				logger.Errorf("cannot deregister image %s: %v", imageID, err)
				continue
			}
			deregistered = append(deregistered, imageID)

			for _, snapshotID := range backing {
				if err := j.deleteSnapshot(ctx, snapshotID); err != nil {
					logger.Errorf("cannot delete snapshot %s backing image %s: %v",
						snapshotID, imageID, err)
					continue
				}
				deleted = append(deleted, snapshotID)
			}
		}
		if resp.NextToken == nil {
			break
		}
		input.NextToken = resp.NextToken
	}
	return deregistered, deleted, nil
}

func (j *Job) deleteSnapshot(ctx context.Context, snapshotID string) error {
	err := callWithBackoff(ctx, j.clock, "deleting snapshot "+snapshotID, func() error {
		_, err := j.client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
			SnapshotId: aws.String(snapshotID),
		})
		return err
	})
	return errors.Trace(err)
}
