// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	ec2testing "github.com/juju/ec2backup/internal/backup/internal/testing"
)

func (c *stubClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type jobSuite struct {
	testing.IsolationSuite
	srv *ec2testing.Server
	clk *stubClock
	job *Job
}

var _ = gc.Suite(&jobSuite{})

func (s *jobSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.srv = ec2testing.NewServer()
	s.clk = newStubClock()
	s.srv.SetTime(s.clk.Now())
	s.job = NewJob(s.srv, s.clk, testConfig())
}

func (s *jobSuite) TestRunBacksUpAndReaps(c *gc.C) {
	s.srv.AddInstance(testInstance("i-0aaa", types.InstanceStateNameRunning, "vol-1"))

	old := s.clk.Now().Add(-8 * 24 * time.Hour)
	s.srv.AddSnapshot(types.Snapshot{
		SnapshotId: aws.String("snap-old"),
		StartTime:  &old,
		Tags:       provenanceTags(),
	})
	s.srv.AddSnapshot(types.Snapshot{
		SnapshotId: aws.String("snap-old-backing"),
		StartTime:  &old,
	})
	s.srv.AddImage(types.Image{
		ImageId:      aws.String("ami-old"),
		CreationDate: aws.String(old.Format(time.RFC3339)),
		Tags:         provenanceTags(),
		BlockDeviceMappings: []types.BlockDeviceMapping{{
			Ebs: &types.EbsBlockDevice{SnapshotId: aws.String("snap-old-backing")},
		}},
	})

	result, err := s.job.Run(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(result.Status, gc.Equals, "OK")
	c.Assert(result.Created.Snapshots, gc.HasLen, 1)
	c.Assert(result.Created.AMIs, gc.HasLen, 1)
	c.Assert(result.Deleted.Snapshots, gc.DeepEquals, []string{"snap-old"})
	c.Assert(result.Deleted.AMIs, gc.DeepEquals, []string{"ami-old"})
	c.Assert(result.Deleted.AMISnapshots, gc.DeepEquals, []string{"snap-old-backing"})

	// The artifacts created in this run carry the provenance tags and
	// survive the cleanup phase of the same run.
	snapshot, ok := s.srv.Snapshot(result.Created.Snapshots[0])
	c.Assert(ok, jc.IsTrue)
	hasCreatedBy := false
	for _, tag := range snapshot.Tags {
		if aws.ToString(tag.Key) == "CreatedBy" {
			hasCreatedBy = true
		}
	}
	c.Assert(hasCreatedBy, jc.IsTrue)
	_, ok = s.srv.Image(result.Created.AMIs[0])
	c.Assert(ok, jc.IsTrue)
}

func (s *jobSuite) TestRunIgnoresUnmatchedInstances(c *gc.C) {
	// Wrong tag value.
	inst := testInstance("i-0bbb", types.InstanceStateNameRunning, "vol-1")
	inst.Tags = []types.Tag{{Key: aws.String("Backup"), Value: aws.String("Weekly")}}
	s.srv.AddInstance(inst)
	// Right tag, but terminated.
	s.srv.AddInstance(testInstance("i-0ccc", types.InstanceStateNameTerminated, "vol-2"))

	result, err := s.job.Run(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Created.Snapshots, gc.HasLen, 0)
	c.Assert(result.Created.AMIs, gc.HasLen, 0)
}

func (s *jobSuite) TestRunBacksUpStoppedInstances(c *gc.C) {
	s.srv.AddInstance(testInstance("i-0ddd", types.InstanceStateNameStopped, "vol-1"))

	result, err := s.job.Run(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Created.Snapshots, gc.HasLen, 1)
	c.Assert(result.Created.AMIs, gc.HasLen, 1)
}

func (s *jobSuite) TestRunFailsFastOnCreationError(c *gc.C) {
	s.srv.AddInstance(testInstance("i-0aaa", types.InstanceStateNameRunning, "vol-1"))
	s.srv.QueueError("CreateSnapshot", &smithy.GenericAPIError{
		Code: "UnauthorizedOperation", Message: "denied",
	})

	_, err := s.job.Run(context.Background())
	c.Assert(err, gc.ErrorMatches, `backing up volumes of instance "i-0aaa": .*`)
	// The run aborted before imaging or cleanup.
	c.Assert(s.srv.CallCount("CreateImage"), gc.Equals, 0)
	c.Assert(s.srv.CallCount("DescribeSnapshots"), gc.Equals, 0)
}

func (s *jobSuite) TestRunSecondInvocationDeletesNothingFurther(c *gc.C) {
	s.srv.AddInstance(testInstance("i-0aaa", types.InstanceStateNameRunning, "vol-1"))

	first, err := s.job.Run(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	s.clk.advance(time.Second)
	s.srv.SetTime(s.clk.Now())

	second, err := s.job.Run(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	// New artifacts every run, with distinct timestamped image names.
	c.Assert(second.Created.Snapshots, gc.HasLen, 1)
	c.Assert(second.Created.AMIs, gc.HasLen, 1)
	c.Assert(second.Created.Snapshots[0], gc.Not(gc.Equals), first.Created.Snapshots[0])
	firstImage, ok := s.srv.Image(first.Created.AMIs[0])
	c.Assert(ok, jc.IsTrue)
	secondImage, ok := s.srv.Image(second.Created.AMIs[0])
	c.Assert(ok, jc.IsTrue)
	c.Assert(aws.ToString(secondImage.Name), gc.Not(gc.Equals), aws.ToString(firstImage.Name))

	// Nothing has aged past the cutoff in between.
	c.Assert(second.Deleted.Snapshots, gc.HasLen, 0)
	c.Assert(second.Deleted.AMIs, gc.HasLen, 0)
	c.Assert(second.Deleted.AMISnapshots, gc.HasLen, 0)
}

func (s *jobSuite) TestResultJSONShape(c *gc.C) {
	out, err := json.Marshal(newResult())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(out), gc.Equals,
		`{"status":"OK","created":{"snapshots":[],"amis":[]},`+
			`"deleted":{"snapshots":[],"amis":[],"ami_snapshots":[]}}`)
}

// pagingClient serves DescribeInstances across several pages to check
// the discovery loop follows the continuation token.
type pagingClient struct {
	Client
	pages int
	calls int
}

func (p *pagingClient) DescribeInstances(_ context.Context, input *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if p.calls > 0 && aws.ToString(input.NextToken) == "" {
		return nil, &smithy.GenericAPIError{Code: "InvalidParameterValue", Message: "missing token"}
	}
	p.calls++
	output := &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{
			Instances: []types.Instance{{InstanceId: aws.String("i-page")}},
		}},
	}
	if p.calls < p.pages {
		output.NextToken = aws.String("next")
	}
	return output, nil
}

func (s *jobSuite) TestInstancesFollowsPagination(c *gc.C) {
	client := &pagingClient{pages: 3}
	job := NewJob(client, s.clk, testConfig())

	instances, err := job.instances(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(instances, gc.HasLen, 3)
	c.Assert(client.calls, gc.Equals, 3)
}
