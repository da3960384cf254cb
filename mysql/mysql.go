// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mysql manages the lifecycle of the charmed-mysql snap on the
// local host: install, first-boot credential bootstrap, service control
// with readiness confirmation, and the exporter sidecar.
package mysql

import (
	"fmt"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/sabaini/mysql-operator/exec"
	"github.com/sabaini/mysql-operator/paths"
	"github.com/sabaini/mysql-operator/retries"
)

var logger = loggo.GetLogger("mysqlhostagent.mysql")

var (
	connectRetryInterval = 5 * time.Second
	connectRetryDeadline = 120 * time.Second

	mountProbeInterval = 12 * time.Second
	mountProbeAttempts = 10
)

// ServiceManager is the capability the controller consumes from the
// host's package/service manager.
type ServiceManager interface {
	Ensure(revision string) error
	Hold() error
	IsHeld() (bool, error)
	IsPresent() (bool, error)
	Set(config map[string]string) error
	Alias(app, alias string) error
	Start(service string, enable bool) error
	Stop(service string, disable bool) error
	Restart(service string) error
	ServiceActive(service string) (bool, error)
}

// ConfigRenderer renders the engine configuration for a tuning profile.
type ConfigRenderer interface {
	Render(profile, snapCommon string, memoryLimit uint64) (content string, settings map[string]string, err error)
}

// Config holds the collaborators and credentials for a MySQL controller.
type Config struct {
	Runner   exec.Runner
	Services ServiceManager
	Renderer ConfigRenderer

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// Paths defaults to the standard charmed-mysql locations.
	Paths *paths.Paths

	RootPassword         string
	ServerConfigUser     string
	ServerConfigPassword string
	MonitoringUser       string
	MonitoringPassword   string
}

// MySQL manages one mysqld instance and its exporter sidecar.
type MySQL struct {
	cfg   Config
	paths paths.Paths
	clock clock.Clock
}

// New returns a controller for the local mysqld instance.
func New(cfg Config) (*MySQL, error) {
	if cfg.Runner == nil {
		return nil, errors.NotValidf("nil Runner")
	}
	if cfg.Services == nil {
		return nil, errors.NotValidf("nil Services")
	}
	m := &MySQL{cfg: cfg, clock: cfg.Clock, paths: paths.Default()}
	if m.clock == nil {
		m.clock = clock.WallClock
	}
	if cfg.Paths != nil {
		m.paths = *cfg.Paths
	}
	return m, nil
}

// Install installs the pinned charmed-mysql snap and prepares its shared
// directory. A snap already present on the host is reused only when the
// marker file written by a previous Install is found; otherwise the snap
// belongs to another installer and the install aborts.
//
// Service-manager failures are returned unmodified so the caller may
// retry them; any other failure is wrapped as InstallFailed and must not
// be blindly retried against the partial state it leaves behind.
func (m *MySQL) Install() error {
	present, err := m.cfg.Services.IsPresent()
	if err != nil {
		return errors.Trace(err)
	}
	if present {
		if _, err := os.Stat(m.paths.InstalledByFile); err != nil {
			if os.IsNotExist(err) {
				logger.Errorf("%s snap already installed on machine, installation aborted", paths.SnapName)
				return errors.WithType(
					errors.Errorf("multiple %s snap installs not supported on one machine", paths.SnapName),
					InstallFailed)
			}
			return errors.WithType(errors.Trace(err), InstallFailed)
		}
	}

	logger.Debugf("installing %s revision %s", paths.SnapName, paths.SnapRevision)
	if err := m.cfg.Services.Ensure(paths.SnapRevision); err != nil {
		return errors.Trace(err)
	}
	held, err := m.cfg.Services.IsHeld()
	if err != nil {
		return errors.Trace(err)
	}
	if !held {
		if err := m.cfg.Services.Hold(); err != nil {
			return errors.Trace(err)
		}
	}

	// The snap owns creation of its common directory; a harmless help
	// invocation of the confined shell triggers it.
	if _, err := os.Stat(m.paths.CommonDir); os.IsNotExist(err) {
		logger.Debugf("creating %s common directory", paths.SnapName)
		if _, _, err := m.cfg.Runner.Run(exec.Params{
			Commands: []string{m.paths.MySQLShBin, "--help"},
		}); err != nil {
			return errors.WithType(errors.Trace(err), InstallFailed)
		}
	}
	if _, _, err := m.cfg.Runner.Run(exec.Params{
		Commands: []string{"chown", "-R", paths.SystemUser, m.paths.CommonDir},
	}); err != nil {
		return errors.WithType(errors.Annotate(err, "normalising common directory ownership"), InstallFailed)
	}

	if err := m.cfg.Services.Alias("mysql", "mysql"); err != nil {
		return errors.Trace(err)
	}

	marker, err := os.OpenFile(m.paths.InstalledByFile, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithType(errors.Annotate(err, "writing install marker"), InstallFailed)
	}
	if err := marker.Close(); err != nil {
		return errors.WithType(errors.Trace(err), InstallFailed)
	}
	return nil
}

// ResetRootPasswordAndStart performs the first-boot bootstrap: it writes
// a one-shot init script assigning the root password, points mysqld at
// it through an ephemeral config fragment, starts the service and waits
// for its socket. Both files are handed to the service account for the
// duration and removed again whether or not the bootstrap succeeds.
func (m *MySQL) ResetRootPasswordAndStart() error {
	logger.Debugf("resetting root user password and starting mysqld")

	sqlFile, err := os.CreateTemp(m.paths.CommonDir, "alter-root-user.*.sql")
	if err != nil {
		return errors.WithType(errors.Annotate(err, "creating init file"), BootstrapFailed)
	}
	defer func() { _ = os.Remove(sqlFile.Name()) }()
	statement := fmt.Sprintf(
		"ALTER USER 'root'@'localhost' IDENTIFIED BY '%s';\nFLUSH PRIVILEGES;",
		m.cfg.RootPassword)
	if _, err := sqlFile.WriteString(statement); err != nil {
		_ = sqlFile.Close()
		return errors.WithType(errors.Annotate(err, "writing init file"), BootstrapFailed)
	}
	if err := sqlFile.Close(); err != nil {
		return errors.WithType(errors.Trace(err), BootstrapFailed)
	}
	if err := m.chownToServiceAccount(sqlFile.Name()); err != nil {
		return errors.WithType(errors.Annotate(err, "changing ownership of init file"), BootstrapFailed)
	}

	cnfFile, err := os.CreateTemp(m.paths.ConfigDir, "z-custom-init-file.*.cnf")
	if err != nil {
		return errors.WithType(errors.Annotate(err, "creating init config"), BootstrapFailed)
	}
	defer func() { _ = os.Remove(cnfFile.Name()) }()
	if _, err := fmt.Fprintf(cnfFile, "[mysqld]\ninit_file = %s\n", sqlFile.Name()); err != nil {
		_ = cnfFile.Close()
		return errors.WithType(errors.Annotate(err, "writing init config"), BootstrapFailed)
	}
	if err := cnfFile.Close(); err != nil {
		return errors.WithType(errors.Trace(err), BootstrapFailed)
	}
	if err := m.chownToServiceAccount(cnfFile.Name()); err != nil {
		return errors.WithType(errors.Annotate(err, "changing ownership of init config"), BootstrapFailed)
	}

	if err := m.cfg.Services.Start(paths.MySQLDService, true); err != nil {
		return errors.WithType(errors.Annotate(err, "starting mysqld"), BootstrapFailed)
	}
	// Only the socket is checked here: no credentials are configured
	// until the init file has been applied.
	if err := m.WaitUntilReady(false); err != nil {
		return errors.WithType(errors.Trace(err), BootstrapFailed)
	}
	return nil
}

// WaitUntilReady blocks until mysqld accepts connections, retrying every
// five seconds for up to two minutes. The mysqld socket must exist; with
// checkPort set an administrative connection over it is also required.
// On exhaustion the error reports ServiceNotRunning.
func (m *MySQL) WaitUntilReady(checkPort bool) error {
	err := retries.UntilDeadline(m.clock, connectRetryInterval, connectRetryDeadline, func() error {
		logger.Debugf("waiting for mysql connection")
		if _, err := os.Stat(m.paths.SocketFile); err != nil {
			return errors.WithType(errors.New("mysql socket file not found"), ServiceNotRunning)
		}
		if checkPort {
			if _, err := m.runSQL("SELECT 1;", m.cfg.ServerConfigUser, m.cfg.ServerConfigPassword); err != nil {
				return errors.WithType(errors.Annotate(err, "connection not possible"), ServiceNotRunning)
			}
		}
		return nil
	})
	return errors.Trace(err)
}

// IsRunning reports whether mysqld is running, by the presence of its
// socket.
func (m *MySQL) IsRunning() bool {
	_, err := os.Stat(m.paths.SocketFile)
	return err == nil
}

// Start starts mysqld, enables it at boot, and confirms readiness with a
// full connection probe.
func (m *MySQL) Start() error {
	logger.Infof("starting service snap=%s, service=%s", paths.SnapName, paths.MySQLDService)
	if err := m.cfg.Services.Start(paths.MySQLDService, true); err != nil {
		return errors.WithType(errors.Trace(err), ServiceOperationFailed)
	}
	return errors.Trace(m.WaitUntilReady(true))
}

// Stop stops mysqld and disables it at boot.
func (m *MySQL) Stop() error {
	logger.Infof("stopping service snap=%s, service=%s", paths.SnapName, paths.MySQLDService)
	if err := m.cfg.Services.Stop(paths.MySQLDService, true); err != nil {
		return errors.WithType(errors.Trace(err), ServiceOperationFailed)
	}
	return nil
}

// Restart stops and then starts mysqld. The two transitions are not
// atomic: when the stop succeeds and the start fails the service is left
// stopped, and the caller must retry Start explicitly.
func (m *MySQL) Restart() error {
	if err := m.Stop(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.Start())
}

// FlushHostCache truncates the in-memory host cache. When mysqld is not
// running there is nothing to flush and the call is a no-op.
func (m *MySQL) FlushHostCache() error {
	if !m.IsRunning() {
		logger.Warningf("mysqld is not running, skipping flush host cache")
		return nil
	}
	logger.Debugf("truncating the mysql host cache")
	_, err := m.runSQL("TRUNCATE TABLE performance_schema.host_cache",
		m.cfg.ServerConfigUser, m.cfg.ServerConfigPassword)
	if err != nil {
		return errors.WithType(errors.Trace(err), FlushHostCacheFailed)
	}
	return nil
}

// ConnectExporter configures the mysqld-exporter sidecar's credentials
// through the snap configuration surface and starts it.
func (m *MySQL) ConnectExporter() error {
	err := m.cfg.Services.Set(map[string]string{
		"exporter.user":     m.cfg.MonitoringUser,
		"exporter.password": m.cfg.MonitoringPassword,
	})
	if err != nil {
		return errors.WithType(errors.Annotate(err, "setting up mysqld-exporter"), ExporterError)
	}
	if err := m.cfg.Services.Start(paths.ExporterService, true); err != nil {
		return errors.WithType(errors.Annotate(err, "starting mysqld-exporter"), ExporterError)
	}
	return nil
}

// StopExporter stops the mysqld-exporter sidecar.
func (m *MySQL) StopExporter() error {
	if err := m.cfg.Services.Stop(paths.ExporterService, true); err != nil {
		return errors.WithType(errors.Annotate(err, "stopping mysqld-exporter"), ExporterError)
	}
	return nil
}

// RestartExporter restarts the sidecar as a stop followed by a
// reconnect, with the same non-atomicity as Restart.
func (m *MySQL) RestartExporter() error {
	if err := m.StopExporter(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.ConnectExporter())
}

// IsVolumeMounted reports whether the snap common directory sits on a
// mounted volume, probing up to ten times at twelve second intervals.
// Exhaustion means not mounted, never an error.
func (m *MySQL) IsVolumeMounted() bool {
	return retries.WithinAttempts(m.clock, mountProbeInterval, mountProbeAttempts, func() error {
		_, _, err := m.cfg.Runner.Run(exec.Params{
			Commands: []string{"mountpoint", "-q", m.paths.CommonDir},
		})
		return err
	})
}

// Hostname returns the machine's hostname, or the empty string when it
// cannot be determined.
func (m *MySQL) Hostname() string {
	stdout, _, err := m.cfg.Runner.Run(exec.Params{Commands: []string{"hostname"}})
	if err != nil {
		logger.Errorf("failed to retrieve hostname: %v", err)
		return ""
	}
	return stdout
}

// runSQL executes a SQL statement through the engine's CLI over the
// local socket.
func (m *MySQL) runSQL(script, user, password string) (string, error) {
	commands := []string{
		m.paths.MySQLBin,
		"-u", user,
		"--protocol=SOCKET",
		"--socket=" + m.paths.SocketFile,
		"-e", script,
	}
	if password != "" {
		commands = append(commands, "--password="+password)
	}
	stdout, _, err := m.cfg.Runner.Run(exec.Params{Commands: commands})
	return stdout, errors.Trace(err)
}

// chownToServiceAccount hands a file to the service account, group-owned
// by the privileged group, so the confined service process can read it.
func (m *MySQL) chownToServiceAccount(path string) error {
	_, _, err := m.cfg.Runner.Run(exec.Params{
		Commands: []string{"chown", paths.SystemUser + ":" + paths.RootUser, path},
	})
	return errors.Trace(err)
}
