// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package paths names the accounts, services and filesystem locations of
// the charmed-mysql snap as laid out on disk.
package paths

import "path/filepath"

const (
	// SnapName is the snap that packages mysqld and its tooling.
	SnapName = "charmed-mysql"

	// SnapRevision is the revision the snap is pinned to.
	SnapRevision = "51"

	// MySQLDService is the snap background service running mysqld.
	MySQLDService = "mysqld"

	// ExporterService is the snap background service running
	// mysqld-exporter.
	ExporterService = "mysqld-exporter"

	// SystemUser is the restricted account the snap services run under.
	SystemUser = "snap_daemon"

	// RootUser is the privileged system account used where the service
	// account's filesystem access is insufficient.
	RootUser = "root"
)

// Paths holds the filesystem locations used to manage the charmed-mysql
// snap. Tests substitute their own locations.
type Paths struct {
	// CommonDir is the snap's shared writable directory.
	CommonDir string

	// DataDir is the mysqld data directory.
	DataDir string

	// ConfigDir is the mysqld configuration fragment directory.
	ConfigDir string

	// CustomConfigFile is the rendered engine configuration fragment.
	CustomConfigFile string

	// DefaultsConfigFile is the snap's main mysqld defaults file.
	DefaultsConfigFile string

	// SocketFile is the mysqld unix socket.
	SocketFile string

	// InstalledByFile marks that this agent performed the snap install.
	InstalledByFile string

	MySQLBin   string
	MySQLShBin string

	XtrabackupBin       string
	XBCloudBin          string
	XBStreamBin         string
	XtrabackupPluginDir string

	LogrotateConfigFile string
	LogrotateCronFile   string
}

// Default returns the standard locations for the charmed-mysql snap.
func Default() Paths {
	common := "/var/snap/charmed-mysql/common"
	current := "/var/snap/charmed-mysql/current"
	snapBin := "/snap/charmed-mysql/current/bin"
	return Paths{
		CommonDir:           common,
		DataDir:             filepath.Join(common, "var/lib/mysql"),
		ConfigDir:           filepath.Join(current, "etc/mysql/mysql.conf.d"),
		CustomConfigFile:    filepath.Join(current, "etc/mysql/mysql.conf.d/z-custom.cnf"),
		DefaultsConfigFile:  filepath.Join(current, "etc/mysql/mysql.cnf"),
		SocketFile:          filepath.Join(common, "var/run/mysqld/mysqld.sock"),
		InstalledByFile:     filepath.Join(common, "installed_by_mysql_host_agent"),
		MySQLBin:            "charmed-mysql.mysql",
		MySQLShBin:          "charmed-mysql.mysqlsh",
		XtrabackupBin:       filepath.Join(snapBin, "xtrabackup"),
		XBCloudBin:          filepath.Join(snapBin, "xbcloud"),
		XBStreamBin:         filepath.Join(snapBin, "xbstream"),
		XtrabackupPluginDir: "/snap/charmed-mysql/current/lib/plugin",
		LogrotateConfigFile: "/etc/logrotate.d/flush_mysql_logs",
		LogrotateCronFile:   "/etc/cron.d/flush_mysql_logs",
	}
}
