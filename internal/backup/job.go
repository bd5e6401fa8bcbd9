// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backup implements a single run of the EC2 instance backup
// job: discover instances selected by tag, snapshot their attached
// EBS volumes, create no-reboot AMIs, then delete artifacts created
// by earlier runs that have aged past the retention window.
package backup

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("ec2backup")

// Job performs one backup invocation. Repeated invocations are
// independent; a Job holds no state beyond its immutable configuration.
type Job struct {
	client Client
	clock  clock.Clock
	config Config
}

// NewJob returns a Job using the given EC2 client and clock.
func NewJob(client Client, clk clock.Clock, config Config) *Job {
	return &Job{
		client: client,
		clock:  clk,
		config: config,
	}
}

// Created lists the artifacts created by a run.
type Created struct {
	Snapshots []string `json:"snapshots"`
	AMIs      []string `json:"amis"`
}

// Deleted lists the expired artifacts removed by a run. AMISnapshots
// are the snapshots that backed deregistered AMIs.
type Deleted struct {
	Snapshots    []string `json:"snapshots"`
	AMIs         []string `json:"amis"`
	AMISnapshots []string `json:"ami_snapshots"`
}

// Result is the outcome of one backup invocation.
type Result struct {
	Status  string  `json:"status"`
	Created Created `json:"created"`
	Deleted Deleted `json:"deleted"`
}

func newResult() Result {
	return Result{
		Status:  "OK",
		Created: Created{Snapshots: []string{}, AMIs: []string{}},
		Deleted: Deleted{Snapshots: []string{}, AMIs: []string{}, AMISnapshots: []string{}},
	}
}

// Run executes the backup job: discovery, per-instance snapshot and
// image creation, then retention cleanup of snapshots and images.
// Discovery and creation errors abort the run; cleanup errors on
// individual artifacts are logged and skipped so one stuck resource
// cannot block the rest.
func (j *Job) Run(ctx context.Context) (Result, error) {
	logger.Infof("starting backup job: target tag %s=%s, retention %d days",
		j.config.TagKey, j.config.TagValue, j.config.RetentionDays)

	instances, err := j.instances(ctx)
	if err != nil {
		return Result{}, errors.Annotate(err, "discovering instances")
	}
	logger.Infof("found %d instance(s) to back up", len(instances))

	result := newResult()
	for _, inst := range instances {
		instanceID := aws.ToString(inst.InstanceId)
		logger.Infof("backing up instance %s", instanceID)

		snapshots, err := j.backupVolumes(ctx, inst)
		if err != nil {
			return Result{}, errors.Annotatef(err, "backing up volumes of instance %q", instanceID)
		}
		logger.Infof("created snapshots for %s: %v", instanceID, snapshots)
		result.Created.Snapshots = append(result.Created.Snapshots, snapshots...)

		imageID, err := j.backupImage(ctx, inst)
		if err != nil {
			return Result{}, errors.Annotatef(err, "imaging instance %q", instanceID)
		}
		logger.Infof("created AMI for %s: %s", instanceID, imageID)
		result.Created.AMIs = append(result.Created.AMIs, imageID)
	}

	cutoff := j.clock.Now().UTC().Add(-time.Duration(j.config.RetentionDays) * 24 * time.Hour)

	deletedSnapshots, err := j.reapSnapshots(ctx, cutoff)
	if err != nil {
		return Result{}, errors.Annotate(err, "listing backup snapshots")
	}
	logger.Infof("deleted expired snapshots: %v", deletedSnapshots)
	result.Deleted.Snapshots = append(result.Deleted.Snapshots, deletedSnapshots...)

	deregistered, deletedBacking, err := j.reapImages(ctx, cutoff)
	if err != nil {
		return Result{}, errors.Annotate(err, "listing backup images")
	}
	logger.Infof("deregistered expired AMIs: %v", deregistered)
	logger.Infof("deleted snapshots backing expired AMIs: %v", deletedBacking)
	result.Deleted.AMIs = append(result.Deleted.AMIs, deregistered...)
	result.Deleted.AMISnapshots = append(result.Deleted.AMISnapshots, deletedBacking...)

	return result, nil
}
