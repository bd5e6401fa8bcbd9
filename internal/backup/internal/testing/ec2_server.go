// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing provides an in-memory EC2 simulator implementing the
// subset of the API used by the backup job.
package testing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Server implements an EC2 simulator for use in testing.
type Server struct {
	mu sync.Mutex

	now time.Time

	instances map[string]types.Instance
	snapshots map[string]types.Snapshot
	images    map[string]types.Image

	snapshotSeq int
	imageSeq    int

	calls             []string
	errors            map[string][]error
	createImageInputs []*ec2.CreateImageInput
}

func NewServer() *Server {
	srv := &Server{}
	srv.Reset()
	return srv
}

func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.instances = make(map[string]types.Instance)
	s.snapshots = make(map[string]types.Snapshot)
	s.images = make(map[string]types.Image)
	s.snapshotSeq = 0
	s.imageSeq = 0
	s.calls = nil
	s.errors = make(map[string][]error)
	s.createImageInputs = nil
}

// CreateImageInputs returns the CreateImage requests received so far.
func (s *Server) CreateImageInputs() []*ec2.CreateImageInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ec2.CreateImageInput(nil), s.createImageInputs...)
}

// SetTime sets the simulator's current time, used to stamp created
// snapshots and images.
func (s *Server) SetTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

// QueueError arranges for the next call to the named operation to
// return err. Queued errors for an operation are consumed in order.
func (s *Server) QueueError(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[op] = append(s.errors[op], err)
}

// Calls returns the names of the operations invoked so far, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many times the named operation was invoked.
func (s *Server) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if call == op {
			n++
		}
	}
	return n
}

// record notes the call and pops a queued error for it, if any. It
// must be called with the mutex held.
func (s *Server) record(op string) error {
	s.calls = append(s.calls, op)
	queue := s.errors[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.errors[op] = queue[1:]
	return err
}

// AddInstance seeds an instance into the simulator.
func (s *Server) AddInstance(inst types.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[aws.ToString(inst.InstanceId)] = inst
}

// AddSnapshot seeds a snapshot into the simulator.
func (s *Server) AddSnapshot(snapshot types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[aws.ToString(snapshot.SnapshotId)] = snapshot
}

// AddImage seeds an image into the simulator.
func (s *Server) AddImage(image types.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[aws.ToString(image.ImageId)] = image
}

// Snapshot returns the named snapshot and whether it still exists.
func (s *Server) Snapshot(id string) (types.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[id]
	return snapshot, ok
}

// Image returns the named image and whether it is still registered.
func (s *Server) Image(id string) (types.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	image, ok := s.images[id]
	return image, ok
}

func (s *Server) nextSnapshotID() string {
	s.snapshotSeq++
	return fmt.Sprintf("snap-%08d", s.snapshotSeq)
}

func (s *Server) nextImageID() string {
	s.imageSeq++
	return fmt.Sprintf("ami-%08d", s.imageSeq)
}

func tagValue(tags []types.Tag, key string) (string, bool) {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value), true
		}
	}
	return "", false
}

// matchTagFilters reports whether the given tags satisfy every
// "tag:<key>" filter. Non-tag filters are handled by the callers.
func matchTagFilters(tags []types.Tag, filters []types.Filter) bool {
	for _, filter := range filters {
		name := aws.ToString(filter.Name)
		if !strings.HasPrefix(name, "tag:") {
			continue
		}
		value, ok := tagValue(tags, strings.TrimPrefix(name, "tag:"))
		if !ok || !containsString(filter.Values, value) {
			return false
		}
	}
	return true
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
