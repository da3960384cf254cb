// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"

	"github.com/sabaini/mysql-operator/mysql"
)

type startCommand struct {
	agentCommand
}

func (c *startCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "start",
		Purpose: "start mysqld and wait until it accepts connections",
	}
}

func (c *startCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

func (c *startCommand) Run(ctx *cmd.Context) error {
	m, err := c.serverController()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.Start())
}

type stopCommand struct {
	agentCommand
}

func (c *stopCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "stop",
		Purpose: "stop mysqld and disable it at boot",
	}
}

func (c *stopCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

func (c *stopCommand) Run(ctx *cmd.Context) error {
	m, err := c.controller()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.Stop())
}

type restartCommand struct {
	agentCommand
}

func (c *restartCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "restart",
		Purpose: "restart mysqld and wait until it accepts connections",
	}
}

func (c *restartCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

func (c *restartCommand) Run(ctx *cmd.Context) error {
	m, err := c.serverController()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.Restart())
}

type statusCommand struct {
	agentCommand
}

func (c *statusCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "status",
		Purpose: "report whether mysqld is running and its data directory is initialised",
	}
}

func (c *statusCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

func (c *statusCommand) Run(ctx *cmd.Context) error {
	m, err := c.controller()
	if err != nil {
		return errors.Trace(err)
	}
	running := "not running"
	if m.IsRunning() {
		running = "running"
	}
	initialised := "not initialised"
	if m.IsDataDirInitialised() {
		initialised = "initialised"
	}
	ctx.Infof("mysqld: %s", running)
	ctx.Infof("data directory: %s", initialised)
	return nil
}

// controller builds a controller from the agent configuration shared by
// the plain service commands.
func (c *agentCommand) controller() (*mysql.MySQL, error) {
	config, err := c.loadConfig()
	if err != nil {
		return nil, errors.Trace(err)
	}
	m, err := c.newController(config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// serverController is controller plus the server credential check, for
// commands whose readiness probe opens an administrative connection.
func (c *agentCommand) serverController() (*mysql.MySQL, error) {
	config, err := c.loadConfig()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := config.validateServer(); err != nil {
		return nil, errors.Trace(err)
	}
	m, err := c.newController(config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}
