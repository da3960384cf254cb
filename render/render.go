// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package render produces the mysqld configuration fragment for a host,
// deriving the memory-based tuning parameters from the amount of memory
// available to the instance.
package render

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("mysqlhostagent.render")

const (
	// MemoryNotDetermined is returned when the host's total memory
	// cannot be read.
	MemoryNotDetermined = errors.ConstError("available memory could not be determined")

	// TuningNotComputed is returned when the auto-tuning parameters
	// cannot be derived from the available memory.
	TuningNotComputed = errors.ConstError("cannot compute auto-tuning parameters")
)

const (
	bytesMiB = 1 << 20
	bytesGiB = 1 << 30

	// chunkSizeDefault is mysqld's default innodb_buffer_pool_chunk_size.
	chunkSizeDefault = 128 * bytesMiB

	// bufferPoolInstances is mysqld's default number of buffer pool
	// instances; the pool size must be a whole number of chunks across
	// all of them.
	bufferPoolInstances = 8

	// bytesPerConnection is the memory budgeted for each connection.
	bytesPerConnection = 12 * bytesMiB
)

const meminfoPath = "/proc/meminfo"

// TotalMemory reads the host's total memory, in bytes, from the
// operating system.
func TotalMemory() (uint64, error) {
	f, err := os.Open(meminfoPath)
	if err != nil {
		return 0, errors.WithType(errors.Trace(err), MemoryNotDetermined)
	}
	defer func() { _ = f.Close() }()
	return ParseMemTotal(f)
}

// ParseMemTotal extracts the MemTotal value, in bytes, from meminfo
// formatted content.
func ParseMemTotal(r io.Reader) (uint64, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, errors.WithType(errors.Trace(err), MemoryNotDetermined)
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.WithType(errors.Trace(err), MemoryNotDetermined)
	}
	return 0, errors.WithType(errors.New("no MemTotal entry found"), MemoryNotDetermined)
}

// InnoDBBufferPoolParameters returns the innodb_buffer_pool_size, the
// innodb_buffer_pool_chunk_size and the group replication message cache
// size for an instance with the given memory. A zero chunk size or cache
// size means the corresponding option is left at its default.
//
// Instances below 2GiB get half their memory as buffer pool and a shrunk
// replication message cache; larger instances get 75% less a 1GiB
// reserve, rounded up to a whole number of default-sized chunks.
func InnoDBBufferPoolParameters(availableMemory uint64) (poolSize, chunkSize, groupReplicationMessageCacheSize uint64, err error) {
	if availableMemory < 2*bytesGiB {
		return availableMemory / 2, 0, chunkSizeDefault, nil
	}
	pool := int64(float64(availableMemory)*0.75) - bytesGiB
	if pool <= 0 {
		return 0, 0, 0, errors.WithType(
			errors.Errorf("no memory left for the buffer pool with %d bytes", availableMemory),
			TuningNotComputed)
	}
	chunks := (pool + chunkSizeDefault - 1) / chunkSizeDefault
	poolSize = uint64(chunks * chunkSizeDefault)
	return poolSize, poolSize / bufferPoolInstances, 0, nil
}

// MaxConnections derives the connection limit from the available memory.
func MaxConnections(availableMemory uint64) (uint64, error) {
	connections := availableMemory / bytesPerConnection
	if connections < 1 {
		return 0, errors.WithType(
			errors.Errorf("not enough memory for a single connection: %d bytes", availableMemory),
			TuningNotComputed)
	}
	return connections, nil
}

// Renderer renders mysqld configuration content.
type Renderer struct {
	// AvailableMemory returns the host's total memory in bytes.
	AvailableMemory func() (uint64, error)
}

// New returns a Renderer backed by the operating system's memory
// accounting.
func New() *Renderer {
	return &Renderer{AvailableMemory: TotalMemory}
}

// Render produces the custom mysqld configuration for the given profile,
// along with the individual settings it contains. The "testing" profile
// uses fixed minimal sizes; any other profile is tuned from the host
// memory, optionally capped by memoryLimit (bytes, 0 for no cap).
func (r *Renderer) Render(profile, snapCommon string, memoryLimit uint64) (string, map[string]string, error) {
	logDir := filepath.Join(snapCommon, "var/log/mysql")
	settings := map[string]string{
		"bind-address":        "0.0.0.0",
		"mysqlx-bind-address": "0.0.0.0",
		"log_error":           filepath.Join(logDir, "error.log"),
		"general_log":         "ON",
		"general_log_file":    filepath.Join(logDir, "general.log"),
		"slow_query_log_file": filepath.Join(logDir, "slowquery.log"),
	}

	if profile == "testing" {
		settings["innodb_buffer_pool_size"] = strconv.Itoa(20 * bytesMiB)
		settings["innodb_buffer_pool_chunk_size"] = strconv.Itoa(1 * bytesMiB)
		settings["loose-group_replication_message_cache_size"] = strconv.Itoa(chunkSizeDefault)
		settings["max_connections"] = "100"
		settings["performance-schema-instrument"] = "'memory/%=OFF'"
	} else {
		memory, err := r.AvailableMemory()
		if err != nil {
			return "", nil, errors.Trace(err)
		}
		if memoryLimit > 0 && memoryLimit < memory {
			memory = memoryLimit
		}
		pool, chunk, grCache, err := InnoDBBufferPoolParameters(memory)
		if err != nil {
			return "", nil, errors.Trace(err)
		}
		connections, err := MaxConnections(memory)
		if err != nil {
			return "", nil, errors.Trace(err)
		}
		logger.Debugf("tuning mysqld for %d bytes of memory", memory)
		settings["innodb_buffer_pool_size"] = strconv.FormatUint(pool, 10)
		if chunk > 0 {
			settings["innodb_buffer_pool_chunk_size"] = strconv.FormatUint(chunk, 10)
		}
		if grCache > 0 {
			settings["loose-group_replication_message_cache_size"] = strconv.FormatUint(grCache, 10)
		}
		settings["max_connections"] = strconv.FormatUint(connections, 10)
	}

	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var content strings.Builder
	content.WriteString("[mysqld]\n")
	for _, key := range keys {
		fmt.Fprintf(&content, "%s = %s\n", key, settings[key])
	}
	return content.String(), settings, nil
}
