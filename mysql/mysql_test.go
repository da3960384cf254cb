// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mysql_test

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/sabaini/mysql-operator/exec"
	"github.com/sabaini/mysql-operator/mysql"
	"github.com/sabaini/mysql-operator/snap"
)

type mysqlSuite struct {
	baseSuite
}

var _ = gc.Suite(&mysqlSuite{})

func (s *mysqlSuite) TestNewValidatesConfig(c *gc.C) {
	_, err := mysql.New(mysql.Config{Services: s.services})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	_, err = mysql.New(mysql.Config{Runner: s.runner})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *mysqlSuite) TestInstallFresh(c *gc.C) {
	m := s.controller(c)
	err := m.Install()
	c.Assert(err, jc.ErrorIsNil)

	c.Check(s.services.calls, gc.DeepEquals, []string{
		"IsPresent", "Ensure 51", "IsHeld", "Hold", "Alias mysql mysql",
	})
	// The common directory already exists, so only its ownership is
	// normalised.
	c.Check(s.runner.commandLines(), gc.DeepEquals, []string{
		"chown -R snap_daemon " + s.paths.CommonDir,
	})
	_, statErr := os.Stat(s.paths.InstalledByFile)
	c.Check(statErr, jc.ErrorIsNil)
}

func (s *mysqlSuite) TestInstallCreatesCommonDir(c *gc.C) {
	s.paths.CommonDir = filepath.Join(c.MkDir(), "does-not-exist-yet")
	s.paths.InstalledByFile = filepath.Join(c.MkDir(), "installed_by_mysql_host_agent")
	m := s.controller(c)

	err := m.Install()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.runner.commandLines(), gc.DeepEquals, []string{
		"charmed-mysql.mysqlsh --help",
		"chown -R snap_daemon " + s.paths.CommonDir,
	})
}

func (s *mysqlSuite) TestInstallReusesOwnedSnap(c *gc.C) {
	s.services.present = true
	s.services.held = true
	err := os.WriteFile(s.paths.InstalledByFile, nil, 0644)
	c.Assert(err, jc.ErrorIsNil)

	m := s.controller(c)
	err = m.Install()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.services.calls, gc.DeepEquals, []string{
		"IsPresent", "Ensure 51", "IsHeld", "Alias mysql mysql",
	})
}

func (s *mysqlSuite) TestInstallRefusesForeignSnap(c *gc.C) {
	// A charmed-mysql snap installed by anything else must not be
	// adopted.
	s.services.present = true
	m := s.controller(c)

	err := m.Install()
	c.Assert(err, jc.ErrorIs, mysql.InstallFailed)
	c.Check(err, gc.ErrorMatches, "multiple charmed-mysql snap installs not supported on one machine")
	c.Check(s.services.calls, gc.DeepEquals, []string{"IsPresent"})
}

func (s *mysqlSuite) TestInstallServiceManagerErrorsPropagate(c *gc.C) {
	s.services.ensureErr = errors.WithType(errors.New("store unreachable"), snap.CommandFailed)
	m := s.controller(c)

	err := m.Install()
	c.Assert(err, jc.ErrorIs, snap.CommandFailed)
	c.Check(errors.Is(err, mysql.InstallFailed), jc.IsFalse)
}

func (s *mysqlSuite) TestResetRootPasswordAndStart(c *gc.C) {
	s.createSocket(c)

	var initFileContent, initConfigContent string
	s.runner.observe = func(params exec.Params) {
		// The ephemeral files must exist with their content at the
		// moment they are handed to the service account.
		if len(params.Commands) != 3 || params.Commands[0] != "chown" {
			return
		}
		data, err := os.ReadFile(params.Commands[2])
		c.Assert(err, jc.ErrorIsNil)
		if strings.HasSuffix(params.Commands[2], ".sql") {
			initFileContent = string(data)
		} else {
			initConfigContent = string(data)
		}
	}

	m := s.controller(c)
	err := m.ResetRootPasswordAndStart()
	c.Assert(err, jc.ErrorIsNil)

	c.Check(initFileContent, gc.Equals,
		"ALTER USER 'root'@'localhost' IDENTIFIED BY 'root-secret';\nFLUSH PRIVILEGES;")
	c.Check(initConfigContent, gc.Matches, `(?s)\[mysqld\]\ninit_file = .*alter-root-user.*\.sql\n`)
	c.Check(s.services.calls, gc.DeepEquals, []string{"Start mysqld --enable"})

	// Both ephemeral files are removed again, and no SQL connection is
	// attempted before credentials exist.
	for _, call := range s.runner.calls {
		c.Check(call.Commands[0], gc.Equals, "chown")
	}
	entries, err := os.ReadDir(s.paths.ConfigDir)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(entries, gc.HasLen, 0)
	entries, err = os.ReadDir(s.paths.CommonDir)
	c.Assert(err, jc.ErrorIsNil)
	for _, entry := range entries {
		c.Check(strings.HasPrefix(entry.Name(), "alter-root-user"), jc.IsFalse)
	}
}

func (s *mysqlSuite) TestResetRootPasswordStartFailure(c *gc.C) {
	s.services.startErr = errors.New("boom")
	m := s.controller(c)

	err := m.ResetRootPasswordAndStart()
	c.Assert(err, jc.ErrorIs, mysql.BootstrapFailed)

	// The ephemeral files do not outlive the failure.
	entries, readErr := os.ReadDir(s.paths.ConfigDir)
	c.Assert(readErr, jc.ErrorIsNil)
	c.Check(entries, gc.HasLen, 0)
}

func (s *mysqlSuite) TestWaitUntilReadySocketOnly(c *gc.C) {
	s.createSocket(c)
	m := s.controller(c)
	err := m.WaitUntilReady(false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.runner.calls, gc.HasLen, 0)
}

func (s *mysqlSuite) TestWaitUntilReadyNoSocket(c *gc.C) {
	m := s.controller(c)
	err := m.WaitUntilReady(false)
	c.Assert(err, jc.ErrorIs, mysql.ServiceNotRunning)
}

func (s *mysqlSuite) TestWaitUntilReadyChecksConnection(c *gc.C) {
	s.createSocket(c)
	s.runner.queue("", "access denied", errors.New("exit status 1"))
	s.runner.queue("1", "", nil)

	m := s.controller(c)
	err := m.WaitUntilReady(true)
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(s.runner.calls, gc.HasLen, 2)
	c.Check(s.runner.calls[1].Commands, gc.DeepEquals, []string{
		"charmed-mysql.mysql",
		"-u", "serverconfig",
		"--protocol=SOCKET",
		"--socket=" + s.paths.SocketFile,
		"-e", "SELECT 1;",
		"--password=config-secret",
	})
}

func (s *mysqlSuite) TestIsRunning(c *gc.C) {
	m := s.controller(c)
	c.Check(m.IsRunning(), jc.IsFalse)
	s.createSocket(c)
	c.Check(m.IsRunning(), jc.IsTrue)
}

func (s *mysqlSuite) TestStart(c *gc.C) {
	s.createSocket(c)
	m := s.controller(c)
	err := m.Start()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.services.calls, gc.DeepEquals, []string{"Start mysqld --enable"})
}

func (s *mysqlSuite) TestStartServiceFailure(c *gc.C) {
	s.services.startErr = errors.New("boom")
	m := s.controller(c)
	err := m.Start()
	c.Assert(err, jc.ErrorIs, mysql.ServiceOperationFailed)
}

func (s *mysqlSuite) TestStop(c *gc.C) {
	m := s.controller(c)
	err := m.Stop()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.services.calls, gc.DeepEquals, []string{"Stop mysqld --disable"})
}

func (s *mysqlSuite) TestRestartLeavesStoppedOnStartFailure(c *gc.C) {
	s.services.startErr = errors.New("boom")
	m := s.controller(c)
	err := m.Restart()
	c.Assert(err, jc.ErrorIs, mysql.ServiceOperationFailed)
	c.Check(s.services.calls, gc.DeepEquals, []string{
		"Stop mysqld --disable", "Start mysqld --enable",
	})
}

func (s *mysqlSuite) TestFlushHostCacheNotRunning(c *gc.C) {
	m := s.controller(c)
	err := m.FlushHostCache()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.runner.calls, gc.HasLen, 0)
}

func (s *mysqlSuite) TestFlushHostCache(c *gc.C) {
	s.createSocket(c)
	m := s.controller(c)
	err := m.FlushHostCache()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.calls, gc.HasLen, 1)
	c.Check(s.runner.calls[0].Commands, gc.DeepEquals, []string{
		"charmed-mysql.mysql",
		"-u", "serverconfig",
		"--protocol=SOCKET",
		"--socket=" + s.paths.SocketFile,
		"-e", "TRUNCATE TABLE performance_schema.host_cache",
		"--password=config-secret",
	})
}

func (s *mysqlSuite) TestFlushHostCacheFailure(c *gc.C) {
	s.createSocket(c)
	s.runner.queue("", "denied", errors.New("exit status 1"))
	m := s.controller(c)
	err := m.FlushHostCache()
	c.Assert(err, jc.ErrorIs, mysql.FlushHostCacheFailed)
}

func (s *mysqlSuite) TestConnectExporter(c *gc.C) {
	m := s.controller(c)
	err := m.ConnectExporter()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.services.calls, gc.DeepEquals, []string{
		"Set", "Start mysqld-exporter --enable",
	})
	c.Check(s.services.config, gc.DeepEquals, map[string]string{
		"exporter.user":     "monitoring",
		"exporter.password": "monitoring-secret",
	})
}

func (s *mysqlSuite) TestConnectExporterFailure(c *gc.C) {
	s.services.setErr = errors.New("boom")
	m := s.controller(c)
	err := m.ConnectExporter()
	c.Assert(err, jc.ErrorIs, mysql.ExporterError)
}

func (s *mysqlSuite) TestStopExporter(c *gc.C) {
	m := s.controller(c)
	err := m.StopExporter()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.services.calls, gc.DeepEquals, []string{"Stop mysqld-exporter --disable"})
}

func (s *mysqlSuite) TestRestartExporter(c *gc.C) {
	m := s.controller(c)
	err := m.RestartExporter()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.services.calls, gc.DeepEquals, []string{
		"Stop mysqld-exporter --disable", "Set", "Start mysqld-exporter --enable",
	})
}

func (s *mysqlSuite) TestIsVolumeMounted(c *gc.C) {
	m := s.controller(c)
	c.Check(m.IsVolumeMounted(), jc.IsTrue)
	c.Assert(s.runner.calls, gc.HasLen, 1)
	c.Check(s.runner.calls[0].Commands, gc.DeepEquals, []string{
		"mountpoint", "-q", s.paths.CommonDir,
	})
}

func (s *mysqlSuite) TestIsVolumeMountedExhaustsProbes(c *gc.C) {
	for i := 0; i < 10; i++ {
		s.runner.queue("", "", errors.New("not a mountpoint"))
	}
	m := s.controller(c)
	c.Check(m.IsVolumeMounted(), jc.IsFalse)
	c.Check(s.runner.calls, gc.HasLen, 10)
}

func (s *mysqlSuite) TestHostname(c *gc.C) {
	s.runner.queue("db-host-0", "", nil)
	m := s.controller(c)
	c.Check(m.Hostname(), gc.Equals, "db-host-0")
}

func (s *mysqlSuite) TestHostnameFailure(c *gc.C) {
	s.runner.queue("", "", errors.New("boom"))
	m := s.controller(c)
	c.Check(m.Hostname(), gc.Equals, "")
}
