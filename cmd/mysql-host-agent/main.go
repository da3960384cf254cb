// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo"
)

func init() {
	// If the environment key is empty, ConfigureLoggers returns nil and
	// does nothing.
	err := loggo.ConfigureLoggers(os.Getenv("MYSQL_HOST_AGENT_LOGGING_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR parsing MYSQL_HOST_AGENT_LOGGING_CONFIG: %s\n\n", err)
	}
}

var agentDoc = `
mysql-host-agent manages the lifecycle of the charmed-mysql snap on the
local machine: installation, first-boot credential bootstrap, service
control with readiness confirmation, and physical backup and restore
against S3 compatible object storage.
`

func newSuperCommand() *cmd.SuperCommand {
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "mysql-host-agent",
		Doc:     agentDoc,
		Purpose: "manage a local charmed-mysql instance",
		Log:     &cmd.Log{},
	})
	super.Register(&installCommand{})
	super.Register(&startCommand{})
	super.Register(&stopCommand{})
	super.Register(&restartCommand{})
	super.Register(&statusCommand{})
	super.Register(&backupCommand{})
	super.Register(&restoreCommand{})
	return super
}

func main() {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(cmd.Main(newSuperCommand(), ctx, os.Args[1:]))
}
