// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mysql

import (
	"os"

	"github.com/juju/collections/set"
)

// requiredDataDirContent is the minimal expected content of an integral
// mysqld data directory.
var requiredDataDirContent = set.NewStrings(
	"mysql",
	"public_key.pem",
	"sys",
	"ca.pem",
	"client-key.pem",
	"mysql.ibd",
	"auto.cnf",
	"server-cert.pem",
	"ib_buffer_pool",
	"server-key.pem",
	"undo_002",
	"#innodb_redo",
	"undo_001",
	"#innodb_temp",
	"private_key.pem",
	"client-cert.pem",
	"ca-key.pem",
	"performance_schema",
)

// IsDataDirInitialised reports whether the data directory holds a fully
// initialised mysqld layout. Partial content is not integral, and a
// missing directory is an expected pre-initialisation state rather than
// an error.
func (m *MySQL) IsDataDirInitialised() bool {
	entries, err := os.ReadDir(m.paths.DataDir)
	if err != nil {
		return false
	}
	content := set.NewStrings()
	for _, entry := range entries {
		content.Add(entry.Name())
	}
	return requiredDataDirContent.Difference(content).Size() == 0
}
