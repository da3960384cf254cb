// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package snap manages an installed snap and its background services
// through the snap command line tool.
package snap

import (
	"regexp"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v3"
)

// Command is a path to the snap binary, or to one that can be detected
// by os/exec.
const Command = "snap"

// CommandFailed tags any failure coming out of the snap tool, so callers
// can distinguish service-manager errors from their own.
const CommandFailed = errors.ConstError("snap command failed")

var (
	logger = loggo.GetLogger("mysqlhostagent.snap")

	// snapNameRe is derived from snapcraft's naming schema but does not
	// test for "--".
	snapNameRe = regexp.MustCompile("^[a-z0-9][a-z0-9-]{0,39}[^-]$")
)

// Patched in tests.
var runCommand = utils.RunCommand

// Snap represents a single snap installed on the host, along with the
// background services it provides.
type Snap struct {
	name string
}

// New returns a Snap for the named snap.
func New(name string) (*Snap, error) {
	if !snapNameRe.MatchString(name) {
		return nil, errors.NotValidf("snap name %q", name)
	}
	return &Snap{name: name}, nil
}

// Name returns the snap's name.
func (s *Snap) Name() string {
	return s.name
}

func (s *Snap) run(args ...string) (string, error) {
	out, err := runCommand(Command, args...)
	if err != nil {
		return out, errors.WithType(errors.Annotatef(err, "output: %s", out), CommandFailed)
	}
	return out, nil
}

// listRow returns the columns of this snap's row in `snap list` output,
// or nil when the snap is not installed.
func (s *Snap) listRow() ([]string, error) {
	out, err := s.run("list")
	if err != nil {
		return nil, errors.Trace(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil, nil
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == s.name {
			return fields, nil
		}
	}
	return nil, nil
}

// IsPresent reports whether the snap is installed.
func (s *Snap) IsPresent() (bool, error) {
	row, err := s.listRow()
	if err != nil {
		return false, errors.Trace(err)
	}
	return row != nil, nil
}

// Ensure installs the snap at the given revision, or refreshes an
// existing install to it.
func (s *Snap) Ensure(revision string) error {
	present, err := s.IsPresent()
	if err != nil {
		return errors.Trace(err)
	}
	verb := "install"
	if present {
		verb = "refresh"
	}
	logger.Debugf("running snap %s for %s revision %s", verb, s.name, revision)
	_, err = s.run(verb, s.name, "--revision="+revision)
	return errors.Trace(err)
}

// Hold pins the snap at its current revision so refreshes do not move it.
func (s *Snap) Hold() error {
	_, err := s.run("refresh", "--hold", s.name)
	return errors.Trace(err)
}

// IsHeld reports whether the snap's revision is pinned.
func (s *Snap) IsHeld() (bool, error) {
	row, err := s.listRow()
	if err != nil {
		return false, errors.Trace(err)
	}
	if row == nil {
		return false, nil
	}
	// Holds appear in the Notes column, e.g. "held" or "disabled,held".
	notes := row[len(row)-1]
	for _, note := range strings.Split(notes, ",") {
		if note == "held" {
			return true, nil
		}
	}
	return false, nil
}

// Set applies configuration options to the snap.
func (s *Snap) Set(config map[string]string) error {
	if len(config) == 0 {
		return errors.NotValidf("empty snap configuration")
	}
	args := []string{"set", s.name}
	keys := make([]string, 0, len(config))
	for key := range config {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, key+"="+config[key])
	}
	_, err := s.run(args...)
	return errors.Trace(err)
}

// Alias registers a short command alias for one of the snap's apps.
func (s *Snap) Alias(app, alias string) error {
	_, err := s.run("alias", s.name+"."+app, alias)
	return errors.Trace(err)
}

// Start starts one of the snap's background services, optionally
// enabling it at boot.
func (s *Snap) Start(service string, enable bool) error {
	args := []string{"start"}
	if enable {
		args = append(args, "--enable")
	}
	args = append(args, s.name+"."+service)
	_, err := s.run(args...)
	return errors.Trace(err)
}

// Stop stops one of the snap's background services, optionally disabling
// it at boot.
func (s *Snap) Stop(service string, disable bool) error {
	args := []string{"stop"}
	if disable {
		args = append(args, "--disable")
	}
	args = append(args, s.name+"."+service)
	_, err := s.run(args...)
	return errors.Trace(err)
}

// Restart restarts one of the snap's background services.
func (s *Snap) Restart(service string) error {
	_, err := s.run("restart", s.name+"."+service)
	return errors.Trace(err)
}

// ServiceActive reports whether the named background service is
// currently active.
func (s *Snap) ServiceActive(service string) (bool, error) {
	out, err := s.run("services", s.name+"."+service)
	if err != nil {
		return false, errors.Trace(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return false, errors.Errorf("unexpected snap services output: %q", out)
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 3 {
		return false, errors.Errorf("unexpected snap services output: %q", out)
	}
	return fields[2] == "active", nil
}
