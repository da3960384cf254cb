// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backups drives physical backups of the mysqld data directory:
// capture to object storage through xtrabackup and xbcloud, and the
// ordered restore sequence that brings one back.
package backups

import (
	"path/filepath"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/sabaini/mysql-operator/exec"
	"github.com/sabaini/mysql-operator/paths"
	"github.com/sabaini/mysql-operator/render"
)

var logger = loggo.GetLogger("mysqlhostagent.backups")

const (
	// CaptureFailed is returned when streaming a backup to object
	// storage fails.
	CaptureFailed = errors.ConstError("backup capture failed")

	// DeleteTempBackupFailed is returned when removing capture staging
	// directories fails.
	DeleteTempBackupFailed = errors.ConstError("cannot delete temporary backup directory")

	// DownloadFailed is returned when fetching a backup from object
	// storage fails.
	DownloadFailed = errors.ConstError("backup download failed")

	// PrepareFailed is returned when replaying the backup's transaction
	// log fails.
	PrepareFailed = errors.ConstError("backup prepare failed")

	// EmptyDataDirFailed is returned when clearing the data directory
	// ahead of a restore fails.
	EmptyDataDirFailed = errors.ConstError("cannot empty data directory")

	// PermissionChangeFailed is returned when the data directory's mode
	// or ownership cannot be changed around a restore.
	PermissionChangeFailed = errors.ConstError("cannot change data directory permissions")

	// RestoreFailed is returned when moving the prepared backup into
	// the data directory fails.
	RestoreFailed = errors.ConstError("backup restore failed")

	// DeleteTempRestoreFailed is returned when removing restore staging
	// directories fails.
	DeleteTempRestoreFailed = errors.ConstError("cannot delete temporary restore directory")
)

// Staging directory name patterns. The restore staging pattern must stay
// excluded from EmptyDataDirectory's deletions.
const (
	backupStagingPattern  = "xtra_backup_XXXX"
	restoreStagingPattern = "#mysql_sst_XXXX"

	backupStagingGlob  = "xtra_backup_*"
	restoreStagingGlob = "#mysql_sst_*"
)

// privileged is the identity the backup tools run under: they need
// broader filesystem access than the service account has.
var privileged = exec.Identity{User: paths.RootUser, Group: paths.RootUser}

// S3Parameters locates and authenticates the object storage bucket
// holding backups.
type S3Parameters struct {
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	Path       string `yaml:"path"`
	AccessKey  string `yaml:"access-key"`
	SecretKey  string `yaml:"secret-key"`
	APIVersion string `yaml:"s3-api-version"`
	URIStyle   string `yaml:"s3-uri-style"`
}

func (s S3Parameters) env() []string {
	return []string{
		"ACCESS_KEY_ID=" + s.AccessKey,
		"SECRET_ACCESS_KEY=" + s.SecretKey,
	}
}

// Pipeline runs the backup and restore stages for one mysqld instance.
// No two pipeline invocations may run concurrently against the same data
// directory; that invariant is the caller's.
type Pipeline struct {
	runner exec.Runner
	paths  paths.Paths

	backupsUser     string
	backupsPassword string

	// availableMemory is the host memory query used to size the
	// prepare stage. Tests substitute their own.
	availableMemory func() (uint64, error)
}

// NewPipeline returns a Pipeline executing through the given runner,
// authenticating against mysqld with the backups account.
func NewPipeline(runner exec.Runner, p paths.Paths, backupsUser, backupsPassword string) *Pipeline {
	return &Pipeline{
		runner:          runner,
		paths:           p,
		backupsUser:     backupsUser,
		backupsPassword: backupsPassword,
		availableMemory: render.TotalMemory,
	}
}

func (p *Pipeline) nproc() (string, error) {
	stdout, _, err := p.runner.Run(exec.Params{Commands: []string{"nproc"}})
	return stdout, errors.Trace(err)
}

func (p *Pipeline) makeStagingDir(pattern string) (string, error) {
	stdout, _, err := p.runner.Run(exec.Params{
		Commands: []string{"mktemp", "--directory", pattern},
		Identity: privileged,
	})
	return stdout, errors.Trace(err)
}

// Capture streams a full physical backup of the running instance into
// the given object storage directory. The stream never lands on the
// local disk; only a staging directory for xtrabackup's bookkeeping is
// created under the snap common directory. Stdout and stderr of the
// stream are returned for the caller's audit logs.
func (p *Pipeline) Capture(s3Directory string, s3 S3Parameters) (string, string, error) {
	nproc, err := p.nproc()
	if err != nil {
		return "", "", errors.WithType(errors.Trace(err), CaptureFailed)
	}
	stagingDir, err := p.makeStagingDir(filepath.Join(p.paths.CommonDir, backupStagingPattern))
	if err != nil {
		return "", "", errors.WithType(errors.Trace(err), CaptureFailed)
	}

	logger.Debugf("streaming backup to %s", s3Directory)
	stdout, stderr, err := p.runner.Run(exec.Params{
		Commands: []string{
			p.paths.XtrabackupBin,
			"--defaults-file=" + p.paths.DefaultsConfigFile,
			"--defaults-group=mysqld",
			"--no-version-check",
			"--parallel=" + nproc,
			"--user=" + p.backupsUser,
			"--password=" + p.backupsPassword,
			"--socket=" + p.paths.SocketFile,
			"--lock-ddl",
			"--backup",
			"--stream=xbstream",
			"--xtrabackup-plugin-dir=" + p.paths.XtrabackupPluginDir,
			"--target-dir=" + stagingDir,
			"--no-server-version-check",
			"|",
			p.paths.XBCloudBin, "put",
			"--curl-retriable-errors=7",
			"--insecure",
			"--parallel=10",
			"--md5",
			"--storage=S3",
			"--s3-region=" + s3.Region,
			"--s3-bucket=" + s3.Bucket,
			"--s3-endpoint=" + s3.Endpoint,
			"--s3-api-version=" + s3.APIVersion,
			"--s3-bucket-lookup=" + s3.URIStyle,
			s3Directory,
		},
		Bash:     true,
		Identity: privileged,
		EnvExtra: s3.env(),
	})
	if err != nil {
		return stdout, stderr, errors.WithType(errors.Trace(err), CaptureFailed)
	}
	return stdout, stderr, nil
}

// DeleteTempBackupDirectory removes any capture staging directories
// under fromDirectory (the snap common directory when empty). Calling it
// when nothing is staged succeeds.
func (p *Pipeline) DeleteTempBackupDirectory(fromDirectory string) error {
	if fromDirectory == "" {
		fromDirectory = p.paths.CommonDir
	}
	logger.Debugf("deleting temp backup directory from %s", fromDirectory)
	_, _, err := p.runner.Run(exec.Params{
		Commands: []string{
			"find", fromDirectory,
			"-wholename", filepath.Join(fromDirectory, backupStagingGlob),
			"-delete",
		},
		Identity: privileged,
	})
	if err != nil {
		return errors.WithType(errors.Trace(err), DeleteTempBackupFailed)
	}
	return nil
}

// Download fetches the named backup from object storage into a fresh
// staging directory under the snap common directory, unpacking and
// decompressing the stream as it arrives. It returns the staging
// location now holding the backup, plus the transfer's stdout and
// stderr.
func (p *Pipeline) Download(backupID string, s3 S3Parameters) (string, string, string, error) {
	nproc, err := p.nproc()
	if err != nil {
		return "", "", "", errors.WithType(errors.Trace(err), DownloadFailed)
	}
	stagingDir, err := p.makeStagingDir(filepath.Join(p.paths.CommonDir, restoreStagingPattern))
	if err != nil {
		return "", "", "", errors.WithType(errors.Trace(err), DownloadFailed)
	}

	logger.Debugf("downloading backup %s into %s", backupID, stagingDir)
	stdout, stderr, err := p.runner.Run(exec.Params{
		Commands: []string{
			p.paths.XBCloudBin, "get",
			"--curl-retriable-errors=7",
			"--parallel=10",
			"--storage=S3",
			"--s3-region=" + s3.Region,
			"--s3-bucket=" + s3.Bucket,
			"--s3-endpoint=" + s3.Endpoint,
			"--s3-bucket-lookup=" + s3.URIStyle,
			"--s3-api-version=" + s3.APIVersion,
			s3.Path + "/" + backupID,
			"|",
			p.paths.XBStreamBin,
			"--decompress",
			"-x",
			"-C", stagingDir,
			"--parallel=" + nproc,
		},
		Bash:     true,
		Identity: privileged,
		EnvExtra: s3.env(),
	})
	if err != nil {
		return stagingDir, stdout, stderr, errors.WithType(errors.Trace(err), DownloadFailed)
	}
	return stagingDir, stdout, stderr, nil
}

// Prepare replays the deferred transaction log of a downloaded backup in
// place, sized by the instance's buffer pool tuning, so its files become
// directly usable.
func (p *Pipeline) Prepare(backupLocation string) (string, string, error) {
	memory, err := p.availableMemory()
	if err != nil {
		return "", "", errors.WithType(errors.Trace(err), PrepareFailed)
	}
	poolSize, _, _, err := render.InnoDBBufferPoolParameters(memory)
	if err != nil {
		return "", "", errors.WithType(errors.Trace(err), PrepareFailed)
	}

	logger.Debugf("preparing backup at %s", backupLocation)
	stdout, stderr, err := p.runner.Run(exec.Params{
		Commands: []string{
			p.paths.XtrabackupBin,
			"--prepare",
			"--use-memory=" + strconv.FormatUint(poolSize, 10),
			"--no-version-check",
			"--rollback-prepared-trx",
			"--xtrabackup-plugin-dir=" + p.paths.XtrabackupPluginDir,
			"--target-dir=" + backupLocation,
		},
		Identity: privileged,
	})
	if err != nil {
		return stdout, stderr, errors.WithType(errors.Trace(err), PrepareFailed)
	}
	return stdout, stderr, nil
}

// EmptyDataDirectory removes the current contents of the data directory
// ahead of a restore, leaving the directory itself and any restore
// staging directories in place.
func (p *Pipeline) EmptyDataDirectory() error {
	logger.Debugf("emptying data directory %s", p.paths.DataDir)
	_, _, err := p.runner.Run(exec.Params{
		Commands: []string{
			"find", p.paths.DataDir,
			"-not", "-path", filepath.Join(p.paths.DataDir, restoreStagingGlob),
			"-not", "-path", p.paths.DataDir,
			"-delete",
		},
		Identity: privileged,
	})
	if err != nil {
		return errors.WithType(errors.Trace(err), EmptyDataDirFailed)
	}
	return nil
}

// RelaxDataDirPermissions makes the data directory group writable so the
// privileged identity can move files into a directory normally owned
// exclusively by the service account.
func (p *Pipeline) RelaxDataDirPermissions() error {
	_, _, err := p.runner.Run(exec.Params{
		Commands: []string{"chmod", "770", p.paths.DataDir},
		Identity: privileged,
	})
	if err != nil {
		return errors.WithType(errors.Annotate(err, "relaxing data directory mode"), PermissionChangeFailed)
	}
	return nil
}

// RevertDataDirOwnership returns the data directory to its restrictive
// mode and hands ownership back to the service account.
func (p *Pipeline) RevertDataDirOwnership() error {
	_, _, err := p.runner.Run(exec.Params{
		Commands: []string{"chmod", "750", p.paths.DataDir},
		Identity: privileged,
	})
	if err != nil {
		return errors.WithType(errors.Annotate(err, "reverting data directory mode"), PermissionChangeFailed)
	}
	_, _, err = p.runner.Run(exec.Params{
		Commands: []string{"chown", "-R", paths.SystemUser + ":" + paths.RootUser, p.paths.DataDir},
		Identity: privileged,
	})
	if err != nil {
		return errors.WithType(errors.Annotate(err, "reverting data directory ownership"), PermissionChangeFailed)
	}
	return nil
}

// Restore moves a prepared backup's files into the data directory.
func (p *Pipeline) Restore(backupLocation string) (string, string, error) {
	logger.Debugf("restoring backup from %s", backupLocation)
	stdout, stderr, err := p.runner.Run(exec.Params{
		Commands: []string{
			p.paths.XtrabackupBin,
			"--defaults-file=" + p.paths.DefaultsConfigFile,
			"--defaults-group=mysqld",
			"--datadir=" + p.paths.DataDir,
			"--no-version-check",
			"--move-back",
			"--force-non-empty-directories",
			"--xtrabackup-plugin-dir=" + p.paths.XtrabackupPluginDir,
			"--target-dir=" + backupLocation,
		},
		Identity: privileged,
	})
	if err != nil {
		return stdout, stderr, errors.WithType(errors.Trace(err), RestoreFailed)
	}
	return stdout, stderr, nil
}

// DeleteTempRestoreDirectory removes any restore staging directories.
// Calling it when nothing is staged succeeds.
func (p *Pipeline) DeleteTempRestoreDirectory() error {
	logger.Debugf("deleting temp restore directory from %s", p.paths.CommonDir)
	_, _, err := p.runner.Run(exec.Params{
		Commands: []string{
			"find", p.paths.CommonDir,
			"-wholename", filepath.Join(p.paths.CommonDir, restoreStagingGlob),
			"-delete",
		},
		Identity: privileged,
	})
	if err != nil {
		return errors.WithType(errors.Trace(err), DeleteTempRestoreFailed)
	}
	return nil
}

// RestoreBackup runs the full restore sequence for the named backup:
// download, relax the data directory mode, empty it, prepare the
// download, move it into place, then revert mode and ownership and
// clear the staging directory. The reversion and the staging cleanup
// also run when a step fails part way through, so the data directory is
// never left group writable.
func (p *Pipeline) RestoreBackup(backupID string, s3 S3Parameters) (err error) {
	location, _, _, err := p.Download(backupID, s3)
	if location != "" {
		// The staging directory exists from here on, even when the
		// transfer into it failed part way.
		defer func() {
			if cleanupErr := p.DeleteTempRestoreDirectory(); cleanupErr != nil {
				if err == nil {
					err = errors.Trace(cleanupErr)
				} else {
					logger.Errorf("cannot clear restore staging after failure: %v", cleanupErr)
				}
			}
		}()
	}
	if err != nil {
		return errors.Trace(err)
	}

	if err := p.RelaxDataDirPermissions(); err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if revertErr := p.RevertDataDirOwnership(); revertErr != nil {
			if err == nil {
				err = errors.Trace(revertErr)
			} else {
				logger.Errorf("cannot revert data directory permissions after failure: %v", revertErr)
			}
		}
	}()

	if err := p.EmptyDataDirectory(); err != nil {
		return errors.Trace(err)
	}
	if _, _, err := p.Prepare(location); err != nil {
		return errors.Trace(err)
	}
	if _, _, err := p.Restore(location); err != nil {
		return errors.Trace(err)
	}
	return nil
}
