// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backup

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
)

// imageNameTimeFormat gives second precision so that repeated runs
// against the same instance produce unique image names.
const imageNameTimeFormat = "2006-01-02-150405"

// backupVolumes snapshots every EBS-backed block device of the given
// instance and tags each snapshot with the job's provenance tags.
// Instance-store devices have no volume to snapshot and are skipped.
// Any creation or tagging failure aborts the instance's backup.
func (j *Job) backupVolumes(ctx context.Context, inst types.Instance) ([]string, error) {
	instanceID := aws.ToString(inst.InstanceId)

	var snapshots []string
	for _, mapping := range inst.BlockDeviceMappings {
		if mapping.Ebs == nil || mapping.Ebs.VolumeId == nil {
			continue
		}
		volumeID := aws.ToString(mapping.Ebs.VolumeId)
		description := fmt.Sprintf("AutoBackup snapshot for %s volume %s (%s=%s)",
			instanceID, volumeID, j.config.TagKey, j.config.TagValue)

		var created *ec2.CreateSnapshotOutput
		err := callWithBackoff(ctx, j.clock, "snapshotting volume "+volumeID, func() error {
			var err error
			created, err = j.client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
				VolumeId:    mapping.Ebs.VolumeId,
				Description: aws.String(description),
			})
			return err
		})
		if err != nil {
			return nil, errors.Annotatef(err, "creating snapshot of volume %q", volumeID)
		}

		snapshotID := aws.ToString(created.SnapshotId)
		if err := j.tagResource(ctx, snapshotID, map[string]string{
			instanceIDTagKey: instanceID,
			volumeIDTagKey:   volumeID,
			typeTagKey:       snapshotTypeTagValue,
		}); err != nil {
			return nil, errors.Annotatef(err, "tagging snapshot %q", snapshotID)
		}
		snapshots = append(snapshots, snapshotID)
	}
	return snapshots, nil
}

// backupImage creates a no-reboot AMI of the given instance, named
// with a UTC timestamp for uniqueness across runs, and tags it with
// the job's provenance tags.
func (j *Job) backupImage(ctx context.Context, inst types.Instance) (string, error) {
	instanceID := aws.ToString(inst.InstanceId)
	name := fmt.Sprintf("autobackup-%s-%s",
		instanceID, j.clock.Now().UTC().Format(imageNameTimeFormat))
	description := fmt.Sprintf("AutoBackup AMI for %s (%s=%s)",
		instanceID, j.config.TagKey, j.config.TagValue)

	var created *ec2.CreateImageOutput
	err := callWithBackoff(ctx, j.clock, "imaging instance "+instanceID, func() error {
		var err error
		created, err = j.client.CreateImage(ctx, &ec2.CreateImageInput{
			InstanceId:  inst.InstanceId,
			Name:        aws.String(name),
			Description: aws.String(description),
			NoReboot:    aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return "", errors.Annotatef(err, "creating image of instance %q", instanceID)
	}

	imageID := aws.ToString(created.ImageId)
	if err := j.tagResource(ctx, imageID, map[string]string{
		instanceIDTagKey: instanceID,
		typeTagKey:       imageTypeTagValue,
	}); err != nil {
		return "", errors.Annotatef(err, "tagging image %q", imageID)
	}
	return imageID, nil
}
