// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package exec runs the external commands the agent depends on, optionally
// under a different OS identity than the calling process.
package exec

import (
	"bytes"
	"os"
	osexec "os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("mysqlhostagent.exec")

// Identity names the OS user and group a command runs under. The zero
// value means the ambient identity of the calling process.
type Identity struct {
	User  string
	Group string
}

// Empty reports whether the identity is the ambient one.
func (i Identity) Empty() bool {
	return i.User == "" && i.Group == ""
}

// Params describes a single synchronous command invocation.
type Params struct {
	// Commands is the argument vector to execute. With Bash set the
	// vector is joined and run under "bash -c" with pipefail enabled,
	// allowing shell pipelines.
	Commands []string

	// Bash wraps the commands in a bash invocation with pipefail set.
	Bash bool

	// Identity is the user/group to run as.
	Identity Identity

	// EnvExtra holds KEY=VALUE entries appended to the current process
	// environment.
	EnvExtra []string
}

// ExecError describes a command that exited with a non-zero code. The
// captured stderr is preserved for diagnostics; whether the failure is
// retryable is the caller's decision.
type ExecError struct {
	Commands []string
	Stderr   string
}

// Error is part of the error interface.
func (e *ExecError) Error() string {
	msg := "command " + strings.Join(e.Commands, " ") + " failed"
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// IsExecError reports whether err was caused by a non-zero command exit.
func IsExecError(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr)
}

// Runner runs external commands and captures their output.
type Runner interface {
	// Run executes the command described by params and returns its
	// stdout and stderr, both trimmed of surrounding whitespace. A
	// non-zero exit is reported as *ExecError.
	Run(params Params) (stdout, stderr string, err error)
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() Runner {
	return &runner{}
}

type runner struct{}

// Run is part of the Runner interface.
func (*runner) Run(params Params) (string, string, error) {
	if len(params.Commands) == 0 {
		return "", "", errors.New("no command specified")
	}
	args := params.Commands
	if params.Bash {
		args = []string{"bash", "-c", "set -o pipefail; " + strings.Join(params.Commands, " ")}
	}

	cmd := osexec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), params.EnvExtra...)
	if !params.Identity.Empty() {
		cred, err := lookupCredential(params.Identity)
		if err != nil {
			return "", "", errors.Trace(err)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	outStr := strings.TrimSpace(stdout.String())
	errStr := strings.TrimSpace(stderr.String())
	if err != nil {
		logger.Debugf("failed command: %v; user=%q, group=%q",
			args, params.Identity.User, params.Identity.Group)
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) {
			return outStr, errStr, &ExecError{Commands: args, Stderr: errStr}
		}
		return outStr, errStr, errors.Trace(err)
	}
	return outStr, errStr, nil
}

func lookupCredential(id Identity) (*syscall.Credential, error) {
	u, err := user.Lookup(id.User)
	if err != nil {
		return nil, errors.Annotatef(err, "looking up user %q", id.User)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, errors.Trace(err)
	}
	gidStr := u.Gid
	if id.Group != "" {
		g, err := user.LookupGroup(id.Group)
		if err != nil {
			return nil, errors.Annotatef(err, "looking up group %q", id.Group)
		}
		gidStr = g.Gid
	}
	gid, err := strconv.ParseUint(gidStr, 10, 32)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}
