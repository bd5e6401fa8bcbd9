// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// apiError builds the kind of coded error the EC2 API returns.
func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}

func (s *Server) DescribeInstances(ctx context.Context, input *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DescribeInstances"); err != nil {
		return nil, err
	}

	var stateValues []string
	for _, filter := range input.Filters {
		if aws.ToString(filter.Name) == "instance-state-name" {
			stateValues = filter.Values
		}
	}

	var matched []types.Instance
	for _, id := range sortedKeys(s.instances) {
		inst := s.instances[id]
		if !matchTagFilters(inst.Tags, input.Filters) {
			continue
		}
		if stateValues != nil {
			state := ""
			if inst.State != nil {
				state = string(inst.State.Name)
			}
			if !containsString(stateValues, state) {
				continue
			}
		}
		matched = append(matched, inst)
	}

	// One reservation per instance, which is how EC2 reports
	// instances launched separately.
	output := &ec2.DescribeInstancesOutput{}
	for _, inst := range matched {
		output.Reservations = append(output.Reservations, types.Reservation{
			Instances: []types.Instance{inst},
		})
	}
	return output, nil
}

func (s *Server) DescribeSnapshots(ctx context.Context, input *ec2.DescribeSnapshotsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DescribeSnapshots"); err != nil {
		return nil, err
	}

	output := &ec2.DescribeSnapshotsOutput{}
	for _, id := range sortedKeys(s.snapshots) {
		snapshot := s.snapshots[id]
		if matchTagFilters(snapshot.Tags, input.Filters) {
			output.Snapshots = append(output.Snapshots, snapshot)
		}
	}
	return output, nil
}

func (s *Server) DescribeImages(ctx context.Context, input *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DescribeImages"); err != nil {
		return nil, err
	}

	output := &ec2.DescribeImagesOutput{}
	for _, id := range sortedKeys(s.images) {
		image := s.images[id]
		if matchTagFilters(image.Tags, input.Filters) {
			output.Images = append(output.Images, image)
		}
	}
	return output, nil
}

func (s *Server) CreateSnapshot(ctx context.Context, input *ec2.CreateSnapshotInput, _ ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateSnapshot"); err != nil {
		return nil, err
	}

	id := s.nextSnapshotID()
	startTime := s.now
	s.snapshots[id] = types.Snapshot{
		SnapshotId:  aws.String(id),
		VolumeId:    input.VolumeId,
		Description: input.Description,
		StartTime:   &startTime,
		State:       types.SnapshotStateCompleted,
	}
	return &ec2.CreateSnapshotOutput{
		SnapshotId: aws.String(id),
		VolumeId:   input.VolumeId,
		StartTime:  &startTime,
	}, nil
}

func (s *Server) CreateImage(ctx context.Context, input *ec2.CreateImageInput, _ ...func(*ec2.Options)) (*ec2.CreateImageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateImage"); err != nil {
		return nil, err
	}
	s.createImageInputs = append(s.createImageInputs, input)

	inst, ok := s.instances[aws.ToString(input.InstanceId)]
	if !ok {
		return nil, apiError("InvalidInstanceID.NotFound", "no such instance")
	}

	// Registering an image snapshots each EBS-backed device. Those
	// snapshots belong to the image and carry no tags of their own.
	var mappings []types.BlockDeviceMapping
	for _, mapping := range inst.BlockDeviceMappings {
		if mapping.Ebs == nil || mapping.Ebs.VolumeId == nil {
			continue
		}
		snapshotID := s.nextSnapshotID()
		startTime := s.now
		s.snapshots[snapshotID] = types.Snapshot{
			SnapshotId: aws.String(snapshotID),
			VolumeId:   mapping.Ebs.VolumeId,
			StartTime:  &startTime,
			State:      types.SnapshotStateCompleted,
		}
		mappings = append(mappings, types.BlockDeviceMapping{
			DeviceName: mapping.DeviceName,
			Ebs:        &types.EbsBlockDevice{SnapshotId: aws.String(snapshotID)},
		})
	}

	id := s.nextImageID()
	s.images[id] = types.Image{
		ImageId:             aws.String(id),
		Name:                input.Name,
		Description:         input.Description,
		CreationDate:        aws.String(s.now.UTC().Format("2006-01-02T15:04:05.000Z")),
		State:               types.ImageStateAvailable,
		BlockDeviceMappings: mappings,
	}
	return &ec2.CreateImageOutput{ImageId: aws.String(id)}, nil
}

func (s *Server) CreateTags(ctx context.Context, input *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateTags"); err != nil {
		return nil, err
	}

	for _, id := range input.Resources {
		switch {
		case hasKey(s.instances, id):
			inst := s.instances[id]
			inst.Tags = mergeTags(inst.Tags, input.Tags)
			s.instances[id] = inst
		case hasKey(s.snapshots, id):
			snapshot := s.snapshots[id]
			snapshot.Tags = mergeTags(snapshot.Tags, input.Tags)
			s.snapshots[id] = snapshot
		case hasKey(s.images, id):
			image := s.images[id]
			image.Tags = mergeTags(image.Tags, input.Tags)
			s.images[id] = image
		default:
			return nil, apiError("InvalidID", "no such resource "+id)
		}
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (s *Server) DeleteSnapshot(ctx context.Context, input *ec2.DeleteSnapshotInput, _ ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteSnapshot"); err != nil {
		return nil, err
	}

	id := aws.ToString(input.SnapshotId)
	if _, ok := s.snapshots[id]; !ok {
		return nil, apiError("InvalidSnapshot.NotFound", "no such snapshot "+id)
	}
	delete(s.snapshots, id)
	return &ec2.DeleteSnapshotOutput{}, nil
}

func (s *Server) DeregisterImage(ctx context.Context, input *ec2.DeregisterImageInput, _ ...func(*ec2.Options)) (*ec2.DeregisterImageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeregisterImage"); err != nil {
		return nil, err
	}

	id := aws.ToString(input.ImageId)
	if _, ok := s.images[id]; !ok {
		return nil, apiError("InvalidAMIID.NotFound", "no such image "+id)
	}
	delete(s.images, id)
	return &ec2.DeregisterImageOutput{}, nil
}

func hasKey[V any](m map[string]V, key string) bool {
	_, ok := m[key]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeTags overwrites existing values for duplicated keys, as
// CreateTags does.
func mergeTags(existing, added []types.Tag) []types.Tag {
	merged := append([]types.Tag(nil), existing...)
	for _, tag := range added {
		replaced := false
		for i, have := range merged {
			if aws.ToString(have.Key) == aws.ToString(tag.Key) {
				merged[i] = tag
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, tag)
		}
	}
	return merged
}
