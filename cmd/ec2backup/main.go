// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// ec2backup performs one run of the EC2 instance backup job: it
// snapshots and images instances selected by tag, then removes
// backups older than the retention window. It is intended to be run
// from an external scheduler and exits when the run completes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/juju/ec2backup/internal/backup"
)

const (
	// exitErr is returned when the user has run ec2backup in an
	// invalid way.
	exitErr = 2
	// exitFailed is returned when the backup run itself failed.
	exitFailed = 1
)

type commandLineArgs struct {
	tagKey        string
	tagValue      string
	retentionDays int
	loggingConfig string
}

func commandLine(args []string) commandLineArgs {
	flags := gnuflag.NewFlagSet("ec2backup", gnuflag.ExitOnError)
	var a commandLineArgs
	flags.StringVar(&a.tagKey, "tag-key", "",
		"tag key selecting instances to back up (overrides INSTANCE_TAG_KEY)")
	flags.StringVar(&a.tagValue, "tag-value", "",
		"tag value selecting instances to back up (overrides INSTANCE_TAG_VALUE)")
	flags.IntVar(&a.retentionDays, "retention-days", 0,
		"age in days beyond which backups are deleted (overrides RETENTION_DAYS)")
	flags.StringVar(&a.loggingConfig, "log-config", "<root>=INFO",
		"loggo configuration string")
	flags.Parse(true, args)
	return a
}

func setupLogging(config string) error {
	loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(os.Stdout, logFormatter))
	return errors.Trace(loggo.ConfigureLoggers(config))
}

func logFormatter(entry loggo.Entry) string {
	ts := entry.Timestamp.In(time.UTC).Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s %s %s", ts, entry.Level, entry.Message)
}

func buildConfig(a commandLineArgs) (backup.Config, error) {
	cfg, err := backup.ConfigFromEnviron(os.Getenv)
	if err != nil {
		return backup.Config{}, errors.Trace(err)
	}
	if a.tagKey != "" {
		cfg.TagKey = a.tagKey
	}
	if a.tagValue != "" {
		cfg.TagValue = a.tagValue
	}
	if a.retentionDays != 0 {
		cfg.RetentionDays = a.retentionDays
	}
	if err := cfg.Validate(); err != nil {
		return backup.Config{}, errors.Trace(err)
	}
	return cfg, nil
}

func main() {
	a := commandLine(os.Args[1:])
	if err := setupLogging(a.loggingConfig); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(exitErr)
	}

	cfg, err := buildConfig(a)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitErr)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load AWS configuration: %v\n", err)
		os.Exit(exitFailed)
	}

	job := backup.NewJob(ec2.NewFromConfig(awsCfg), clock.WallClock, cfg)
	result, err := job.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup run failed: %v\n", err)
		os.Exit(exitFailed)
	}

	out, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot marshal result: %v\n", err)
		os.Exit(exitFailed)
	}
	fmt.Println(string(out))
}
