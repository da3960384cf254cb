// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v3"

	"github.com/sabaini/mysql-operator/backups"
	"github.com/sabaini/mysql-operator/exec"
	"github.com/sabaini/mysql-operator/mysql"
	"github.com/sabaini/mysql-operator/paths"
	"github.com/sabaini/mysql-operator/render"
	"github.com/sabaini/mysql-operator/snap"
)

const defaultConfigPath = "/etc/mysql-host-agent.yaml"

// agentConfig is the on-disk configuration of the agent.
type agentConfig struct {
	RootPassword         string `yaml:"root-password"`
	ServerConfigUser     string `yaml:"server-config-user"`
	ServerConfigPassword string `yaml:"server-config-password"`
	MonitoringUser       string `yaml:"monitoring-user"`
	MonitoringPassword   string `yaml:"monitoring-password"`
	BackupsUser          string `yaml:"backups-user"`
	BackupsPassword      string `yaml:"backups-password"`

	// Profile selects the tuning profile; "testing" uses fixed minimal
	// sizes, anything else tunes from host memory.
	Profile string `yaml:"profile"`

	// MemoryLimitMB caps the memory the tuning is derived from. Zero
	// means no cap.
	MemoryLimitMB uint64 `yaml:"memory-limit-mb"`

	S3 backups.S3Parameters `yaml:"s3"`
}

// validateServer checks the credentials the bootstrap and the readiness
// connection probe consume. Commands that never open an administrative
// connection do not require them.
func (c *agentConfig) validateServer() error {
	if c.RootPassword == "" {
		return errors.NotValidf("empty root-password")
	}
	if c.ServerConfigUser == "" || c.ServerConfigPassword == "" {
		return errors.NotValidf("incomplete server config credentials")
	}
	return nil
}

// validateBackups checks the credentials the backup pipeline hands to
// xtrabackup.
func (c *agentConfig) validateBackups() error {
	if c.BackupsUser == "" || c.BackupsPassword == "" {
		return errors.NotValidf("incomplete backups credentials")
	}
	return nil
}

// agentCommand is the base for all subcommands: it locates and loads the
// agent configuration and builds the controller around it.
type agentCommand struct {
	cmd.CommandBase
	configPath string
}

func (c *agentCommand) SetFlags(f *gnuflag.FlagSet) {
	c.CommandBase.SetFlags(f)
	f.StringVar(&c.configPath, "config", defaultConfigPath, "path to the agent configuration file")
}

func (c *agentCommand) loadConfig() (*agentConfig, error) {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return nil, errors.Annotatef(err, "reading agent config %q", c.configPath)
	}
	var config agentConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Annotatef(err, "parsing agent config %q", c.configPath)
	}
	if config.Profile == "" {
		config.Profile = "production"
	}
	return &config, nil
}

func (c *agentCommand) newController(config *agentConfig) (*mysql.MySQL, error) {
	services, err := snap.New(paths.SnapName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m, err := mysql.New(mysql.Config{
		Runner:               exec.NewRunner(),
		Services:             services,
		Renderer:             render.New(),
		RootPassword:         config.RootPassword,
		ServerConfigUser:     config.ServerConfigUser,
		ServerConfigPassword: config.ServerConfigPassword,
		MonitoringUser:       config.MonitoringUser,
		MonitoringPassword:   config.MonitoringPassword,
	})
	return m, errors.Trace(err)
}

func (c *agentCommand) newPipeline(config *agentConfig) *backups.Pipeline {
	return backups.NewPipeline(
		exec.NewRunner(), paths.Default(),
		config.BackupsUser, config.BackupsPassword)
}
