// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backup

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type configSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&configSuite{})

func environ(vars map[string]string) func(string) string {
	return func(name string) string {
		return vars[name]
	}
}

func (s *configSuite) TestDefaults(c *gc.C) {
	cfg, err := ConfigFromEnviron(environ(nil))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(cfg, gc.DeepEquals, Config{
		TagKey:        "Backup",
		TagValue:      "Daily",
		RetentionDays: 7,
	})
}

func (s *configSuite) TestEnvironOverrides(c *gc.C) {
	cfg, err := ConfigFromEnviron(environ(map[string]string{
		"INSTANCE_TAG_KEY":   "Snapshots",
		"INSTANCE_TAG_VALUE": "Hourly",
		"RETENTION_DAYS":     "30",
	}))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(cfg, gc.DeepEquals, Config{
		TagKey:        "Snapshots",
		TagValue:      "Hourly",
		RetentionDays: 30,
	})
}

func (s *configSuite) TestRetentionDaysNotAnInteger(c *gc.C) {
	_, err := ConfigFromEnviron(environ(map[string]string{
		"RETENTION_DAYS": "a week",
	}))
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *configSuite) TestRetentionDaysNotPositive(c *gc.C) {
	for _, days := range []string{"0", "-1"} {
		_, err := ConfigFromEnviron(environ(map[string]string{
			"RETENTION_DAYS": days,
		}))
		c.Check(err, jc.ErrorIs, errors.NotValid)
	}
}

func (s *configSuite) TestValidate(c *gc.C) {
	err := Config{TagKey: "Backup", TagValue: "Daily", RetentionDays: 7}.Validate()
	c.Assert(err, jc.ErrorIsNil)

	err = Config{TagValue: "Daily", RetentionDays: 7}.Validate()
	c.Assert(err, jc.ErrorIs, errors.NotValid)

	err = Config{TagKey: "Backup", RetentionDays: 7}.Validate()
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}
