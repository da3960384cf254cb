// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mysql

import (
	"os"
	"strings"
	"text/template"

	"github.com/juju/errors"
	"github.com/juju/utils/v3"

	"github.com/sabaini/mysql-operator/paths"
)

const bytesMiB = 1 << 20

// WriteConfig renders the custom mysqld configuration for the given
// tuning profile and writes it to the engine's config directory. A
// non-zero memoryLimitMB caps the memory the tuning is derived from.
func (m *MySQL) WriteConfig(profile string, memoryLimitMB uint64) error {
	if m.cfg.Renderer == nil {
		return errors.WithType(errors.New("no config renderer available"), ConfigGenerationFailed)
	}
	logger.Debugf("writing mysql configuration file")
	content, _, err := m.cfg.Renderer.Render(profile, m.paths.CommonDir, memoryLimitMB*bytesMiB)
	if err != nil {
		return errors.WithType(errors.Trace(err), ConfigGenerationFailed)
	}
	if err := os.MkdirAll(m.paths.ConfigDir, 0755); err != nil {
		return errors.WithType(errors.Trace(err), ConfigGenerationFailed)
	}
	if err := m.WriteContentToFile(m.paths.CustomConfigFile, content); err != nil {
		return errors.WithType(errors.Trace(err), ConfigGenerationFailed)
	}
	return nil
}

// WriteContentToFile atomically writes content owned by the service
// account, group-owned by the privileged group, readable by both and
// nobody else.
func (m *MySQL) WriteContentToFile(path, content string) error {
	if err := utils.AtomicWriteFile(path, []byte(content), 0640); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.chownToServiceAccount(path))
}

// logrotateTemplate rotates the engine's text logs in place. Rotation
// keeps no archives; the windows in the cron schedule make mysqld
// reopen its logs often enough to bound their size.
var logrotateTemplate = template.Must(template.New("logrotate").Parse(`# Use system provided logrotate to flush mysql logs
{{.LogDir}}/error.log {{.LogDir}}/general.log {{.LogDir}}/slowquery.log {
    su {{.SystemUser}} {{.SystemUser}}
    createolddir 770 {{.SystemUser}} {{.SystemUser}}
    hourly
    maxage 7
    rotate 10800
    dateext
    dateformat -%V-%H%M
    missingok
    nocompress
    olddir archive_logs
    sharedscripts
    postrotate
        {{.MySQLBin}} -e 'FLUSH LOGS'
    endscript
}
`))

// logrotateCron forces a rotation once an hour through the day and once
// a minute in the first hour, so a missed window is recovered quickly.
const logrotateCron = "* 1-23 * * * root logrotate -f %s\n" +
	"1-59 0 * * * root logrotate -f %s\n"

// SetupLogrotateAndCron writes the logrotate rule for the engine logs
// and the cron schedule that drives it.
func (m *MySQL) SetupLogrotateAndCron() error {
	logger.Debugf("creating logrotate config file")
	var rendered strings.Builder
	err := logrotateTemplate.Execute(&rendered, struct {
		LogDir     string
		SystemUser string
		MySQLBin   string
	}{
		LogDir:     m.paths.CommonDir + "/var/log/mysql",
		SystemUser: paths.SystemUser,
		MySQLBin:   m.paths.MySQLBin,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(m.paths.LogrotateConfigFile, []byte(rendered.String()), 0644); err != nil {
		return errors.Trace(err)
	}

	cron := strings.ReplaceAll(logrotateCron, "%s", m.paths.LogrotateConfigFile)
	return errors.Trace(utils.AtomicWriteFile(m.paths.LogrotateCronFile, []byte(cron), 0644))
}
