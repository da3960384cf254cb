// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mysql

import "github.com/juju/errors"

const (
	// InstallFailed is returned when the install sequence aborts in a
	// partially-applied state. It is not safe to retry blindly.
	InstallFailed = errors.ConstError("mysql install failed")

	// BootstrapFailed is returned when resetting the root password and
	// starting mysqld for the first time fails.
	BootstrapFailed = errors.ConstError("resetting root password and starting mysqld failed")

	// ServiceNotRunning is returned when mysqld cannot be reached
	// before the readiness deadline.
	ServiceNotRunning = errors.ConstError("mysqld service not running")

	// ServiceOperationFailed is returned when a start, stop or restart
	// of a managed service fails at the service manager.
	ServiceOperationFailed = errors.ConstError("service operation failed")

	// ConfigGenerationFailed is returned when the mysqld configuration
	// cannot be rendered or written.
	ConfigGenerationFailed = errors.ConstError("cannot generate mysqld config")

	// FlushHostCacheFailed is returned when truncating the host cache
	// through the administrative SQL path fails.
	FlushHostCacheFailed = errors.ConstError("cannot flush mysql host cache")

	// ExporterError is returned when configuring or operating the
	// mysqld-exporter sidecar fails.
	ExporterError = errors.ConstError("mysqld exporter operation failed")
)
