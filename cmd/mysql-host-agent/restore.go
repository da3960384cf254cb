// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
)

var restoreDoc = `
Stops mysqld, replaces the data directory with the named backup from the
configured S3 bucket, and starts mysqld again. The previous content of
the data directory is destroyed.
`

type restoreCommand struct {
	agentCommand
	backupID string
}

func (c *restoreCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "restore",
		Args:    "<backup-id>",
		Purpose: "restore a physical backup from object storage",
		Doc:     restoreDoc,
	}
}

func (c *restoreCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no backup id specified")
	}
	c.backupID = args[0]
	return cmd.CheckEmpty(args[1:])
}

func (c *restoreCommand) Run(ctx *cmd.Context) error {
	config, err := c.loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	// The restore needs both credential sets: the pipeline downloads
	// with the backups account and the final start probes with the
	// server config account.
	if err := config.validateBackups(); err != nil {
		return errors.Trace(err)
	}
	if err := config.validateServer(); err != nil {
		return errors.Trace(err)
	}
	m, err := c.newController(config)
	if err != nil {
		return errors.Trace(err)
	}

	if m.IsRunning() {
		if err := m.Stop(); err != nil {
			return errors.Trace(err)
		}
	}
	if err := c.newPipeline(config).RestoreBackup(c.backupID, config.S3); err != nil {
		return errors.Trace(err)
	}
	if err := m.Start(); err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("backup %s restored", c.backupID)
	return nil
}
