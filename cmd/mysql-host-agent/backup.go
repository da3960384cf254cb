// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"time"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
)

var backupDoc = `
Streams a full physical backup of the running instance into the
configured S3 bucket. The backup never lands on the local disk. The
backup identifier defaults to the current UTC time.
`

type backupCommand struct {
	agentCommand
	backupID string
}

func (c *backupCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "backup",
		Args:    "[<backup-id>]",
		Purpose: "stream a physical backup to object storage",
		Doc:     backupDoc,
	}
}

func (c *backupCommand) Init(args []string) error {
	if len(args) > 0 {
		c.backupID = args[0]
		args = args[1:]
	}
	return cmd.CheckEmpty(args)
}

func (c *backupCommand) Run(ctx *cmd.Context) error {
	config, err := c.loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	if err := config.validateBackups(); err != nil {
		return errors.Trace(err)
	}
	m, err := c.newController(config)
	if err != nil {
		return errors.Trace(err)
	}
	if !m.IsRunning() {
		return errors.New("mysqld is not running, nothing to back up")
	}

	backupID := c.backupID
	if backupID == "" {
		backupID = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}
	pipeline := c.newPipeline(config)

	stdout, stderr, err := pipeline.Capture(config.S3.Path+"/"+backupID, config.S3)
	if cleanupErr := pipeline.DeleteTempBackupDirectory(""); cleanupErr != nil {
		ctx.Warningf("cannot clean up backup staging: %v", cleanupErr)
	}
	if err != nil {
		ctx.Infof("%s", stderr)
		return errors.Trace(err)
	}
	ctx.Verbosef("%s", stdout)
	ctx.Infof("backup %s complete", backupID)
	return nil
}
