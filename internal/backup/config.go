// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backup

import (
	"strconv"

	"github.com/juju/errors"
)

const (
	tagKeyEnvName        = "INSTANCE_TAG_KEY"
	tagValueEnvName      = "INSTANCE_TAG_VALUE"
	retentionDaysEnvName = "RETENTION_DAYS"

	defaultTagKey        = "Backup"
	defaultTagValue      = "Daily"
	defaultRetentionDays = 7
)

// Config holds the job configuration. It is read once at invocation
// entry and treated as immutable for the remainder of the run.
type Config struct {
	// TagKey and TagValue select the instances to back up.
	TagKey   string
	TagValue string

	// RetentionDays is the age in days beyond which artifacts created
	// by this job become eligible for deletion.
	RetentionDays int
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.TagKey == "" {
		return errors.NotValidf("empty instance tag key")
	}
	if c.TagValue == "" {
		return errors.NotValidf("empty instance tag value")
	}
	if c.RetentionDays <= 0 {
		return errors.NotValidf("retention of %d days", c.RetentionDays)
	}
	return nil
}

// ConfigFromEnviron builds a Config from the process environment,
// applying defaults for unset variables. The getenv argument is
// typically os.Getenv.
func ConfigFromEnviron(getenv func(string) string) (Config, error) {
	cfg := Config{
		TagKey:        defaultTagKey,
		TagValue:      defaultTagValue,
		RetentionDays: defaultRetentionDays,
	}
	if v := getenv(tagKeyEnvName); v != "" {
		cfg.TagKey = v
	}
	if v := getenv(tagValueEnvName); v != "" {
		cfg.TagValue = v
	}
	if v := getenv(retentionDaysEnvName); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.NotValidf("%s %q", retentionDaysEnvName, v)
		}
		cfg.RetentionDays = days
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}
