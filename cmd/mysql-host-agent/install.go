// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
)

var installDoc = `
Installs the charmed-mysql snap pinned at its supported revision, writes
the tuned mysqld configuration for the selected profile, sets up log
rotation, and bootstraps the root credential on first start.

The install aborts when a charmed-mysql snap installed by anything else
is already present on the machine.
`

type installCommand struct {
	agentCommand
}

func (c *installCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "install",
		Purpose: "install and bootstrap the local mysql instance",
		Doc:     installDoc,
	}
}

func (c *installCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

func (c *installCommand) Run(ctx *cmd.Context) error {
	config, err := c.loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	if err := config.validateServer(); err != nil {
		return errors.Trace(err)
	}
	m, err := c.newController(config)
	if err != nil {
		return errors.Trace(err)
	}

	if err := m.Install(); err != nil {
		return errors.Trace(err)
	}
	if err := m.WriteConfig(config.Profile, config.MemoryLimitMB); err != nil {
		return errors.Trace(err)
	}
	if err := m.SetupLogrotateAndCron(); err != nil {
		return errors.Trace(err)
	}

	if m.IsDataDirInitialised() {
		ctx.Infof("data directory already initialised, skipping bootstrap")
		return nil
	}
	if err := m.ResetRootPasswordAndStart(); err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("mysql installed and bootstrapped")
	return nil
}
