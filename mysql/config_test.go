// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mysql_test

import (
	"os"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/sabaini/mysql-operator/mysql"
)

type stubRenderer struct {
	content string
	err     error

	profile     string
	snapCommon  string
	memoryLimit uint64
}

func (r *stubRenderer) Render(profile, snapCommon string, memoryLimit uint64) (string, map[string]string, error) {
	r.profile = profile
	r.snapCommon = snapCommon
	r.memoryLimit = memoryLimit
	return r.content, nil, r.err
}

type configSuite struct {
	baseSuite

	renderer *stubRenderer
}

var _ = gc.Suite(&configSuite{})

func (s *configSuite) SetUpTest(c *gc.C) {
	s.baseSuite.SetUpTest(c)
	s.renderer = &stubRenderer{content: "[mysqld]\nmax_connections = 100\n"}
}

func (s *configSuite) controller(c *gc.C) *mysql.MySQL {
	m, err := mysql.New(mysql.Config{
		Runner:   s.runner,
		Services: s.services,
		Renderer: s.renderer,
		Paths:    &s.paths,
	})
	c.Assert(err, jc.ErrorIsNil)
	return m
}

func (s *configSuite) TestWriteConfig(c *gc.C) {
	m := s.controller(c)
	err := m.WriteConfig("production", 2048)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(s.renderer.profile, gc.Equals, "production")
	c.Check(s.renderer.snapCommon, gc.Equals, s.paths.CommonDir)
	c.Check(s.renderer.memoryLimit, gc.Equals, uint64(2048*1024*1024))

	data, err := os.ReadFile(s.paths.CustomConfigFile)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "[mysqld]\nmax_connections = 100\n")

	info, err := os.Stat(s.paths.CustomConfigFile)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Mode().Perm(), gc.Equals, os.FileMode(0640))

	// The rendered file is handed to the service account.
	c.Check(s.runner.commandLines(), gc.DeepEquals, []string{
		"chown snap_daemon:root " + s.paths.CustomConfigFile,
	})
}

func (s *configSuite) TestWriteConfigRenderFailure(c *gc.C) {
	s.renderer.err = errors.New("no memory accounting")
	m := s.controller(c)
	err := m.WriteConfig("production", 0)
	c.Assert(err, jc.ErrorIs, mysql.ConfigGenerationFailed)
	_, statErr := os.Stat(s.paths.CustomConfigFile)
	c.Check(os.IsNotExist(statErr), jc.IsTrue)
}

func (s *configSuite) TestWriteConfigWithoutRenderer(c *gc.C) {
	m := s.baseSuite.controller(c)
	err := m.WriteConfig("production", 0)
	c.Assert(err, jc.ErrorIs, mysql.ConfigGenerationFailed)
}

func (s *configSuite) TestWriteContentToFile(c *gc.C) {
	m := s.controller(c)
	target := s.paths.CustomConfigFile
	err := m.WriteContentToFile(target, "content\n")
	c.Assert(err, jc.ErrorIsNil)
	data, err := os.ReadFile(target)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "content\n")
}

func (s *configSuite) TestSetupLogrotateAndCron(c *gc.C) {
	m := s.controller(c)
	err := m.SetupLogrotateAndCron()
	c.Assert(err, jc.ErrorIsNil)

	rotate, err := os.ReadFile(s.paths.LogrotateConfigFile)
	c.Assert(err, jc.ErrorIsNil)
	content := string(rotate)
	c.Check(content, jc.Contains, s.paths.CommonDir+"/var/log/mysql/error.log")
	c.Check(content, jc.Contains, "su snap_daemon snap_daemon")
	c.Check(content, jc.Contains, "charmed-mysql.mysql -e 'FLUSH LOGS'")

	cron, err := os.ReadFile(s.paths.LogrotateCronFile)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(cron), gc.Equals,
		"* 1-23 * * * root logrotate -f "+s.paths.LogrotateConfigFile+"\n"+
			"1-59 0 * * * root logrotate -f "+s.paths.LogrotateConfigFile+"\n")
}
