// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

// Package connector implements the handshake a client performs
// against a running driver's command-and-control file: wait for the
// file to exist, memory-map it, wait for the driver to publish a
// supported version, and confirm the driver is actually alive (not a
// stale file left behind by a crashed process) before handing back
// the mapped sub-regions.
package connector

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zephyrmq/zephyr-go/clienterrors"
	"github.com/zephyrmq/zephyr-go/internal/cncfile"
	"github.com/zephyrmq/zephyr-go/lib/clock"
	"github.com/zephyrmq/zephyr-go/ringbuffer"
)

const (
	cncFilePollInterval      = 16 * time.Millisecond
	versionPollInterval      = 1 * time.Millisecond
	staleDriverRetryInterval = 100 * time.Millisecond
)

// Regions is the mapped result of a successful handshake: the four
// sub-regions a connected client needs, still backed by the mapping
// that [Connect] established. Close unmaps them.
type Regions struct {
	ToDriverBuffer   []byte
	ToClientBuffer   []byte
	CountersMetadata []byte
	CountersValues   []byte

	// Metadata is the CnC header view backing this connection, still
	// live against the same mapping: callers read it for the driver's
	// declared client liveness timeout and its fingerprint, but never
	// write it.
	Metadata *cncfile.Metadata

	mapped []byte
}

// Close unmaps the CnC file. Safe to call once; a second call returns
// an error.
func (r *Regions) Close() error {
	if r.mapped == nil {
		return fmt.Errorf("connector: regions already closed")
	}
	data := r.mapped
	r.mapped = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("connector: munmap: %w", err)
	}
	return nil
}

// Connect performs the full CnC handshake against path, blocking until
// either the driver becomes reachable or timeout elapses. On timeout
// or version mismatch it returns a *clienterrors.DriverTimeoutError or
// *clienterrors.UnsupportedVersionError respectively.
func Connect(path string, timeout time.Duration, c clock.Clock) (*Regions, error) {
	deadline := c.Now().Add(timeout)

	if err := waitForFile(path, deadline, c); err != nil {
		return nil, err
	}

	for {
		data, meta, err := mapAndWaitForVersion(path, deadline, c)
		if err != nil {
			return nil, err
		}

		layout, err := cncfile.NewLayout(meta)
		if err != nil {
			unix.Munmap(data)
			return nil, fmt.Errorf("connector: computing layout: %w", err)
		}

		if int64(len(data)) < layout.TotalLength {
			unix.Munmap(data)
			return nil, fmt.Errorf("connector: mapped file shorter than declared layout: %d < %d",
				len(data), layout.TotalLength)
		}

		toDriverBuffer := data[layout.ToDriverBufferOffset : layout.ToDriverBufferOffset+int64(layout.ToDriverBufferLength)]

		// Step 5: wait for the driver's first heartbeat. The mapping is
		// already good at this point, so poll it in place rather than
		// unmapping and remapping on every iteration.
		var status heartbeatStatus
		for {
			status, err = classifyDriverHeartbeat(toDriverBuffer, timeout, c)
			if err != nil {
				unix.Munmap(data)
				return nil, err
			}
			if status != heartbeatZero {
				break
			}
			if c.Now().After(deadline) {
				unix.Munmap(data)
				return nil, &clienterrors.DriverTimeoutError{Reason: "driver never published a first heartbeat"}
			}
			c.Sleep(versionPollInterval)
		}

		// Step 6: freshness check. A nonzero but stale heartbeat means
		// this cnc file may have been left behind by a crashed driver;
		// unmap and restart the handshake from the top.
		if status != heartbeatFresh {
			unix.Munmap(data)
			if c.Now().After(deadline) {
				return nil, &clienterrors.DriverTimeoutError{Reason: "driver heartbeat is stale"}
			}
			c.Sleep(staleDriverRetryInterval)
			continue
		}

		return &Regions{
			ToDriverBuffer:   toDriverBuffer,
			ToClientBuffer:   data[layout.ToClientBufferOffset : layout.ToClientBufferOffset+int64(layout.ToClientBufferLength)],
			CountersMetadata: data[layout.CountersMetadataOffset : layout.CountersMetadataOffset+int64(layout.CountersMetadataLength)],
			CountersValues:   data[layout.CountersValuesOffset : layout.CountersValuesOffset+int64(layout.CountersValuesLength)],
			Metadata:         meta,
			mapped:           data,
		}, nil
	}
}

func waitForFile(path string, deadline time.Time, c clock.Clock) error {
	for {
		fd, err := unix.Open(path, unix.O_RDONLY, 0)
		if err == nil {
			unix.Close(fd)
			return nil
		}

		if c.Now().After(deadline) {
			return &clienterrors.DriverTimeoutError{Reason: "cnc file never appeared: " + path}
		}
		c.Sleep(cncFilePollInterval)
	}
}

// mapAndWaitForVersion opens and maps path, then blocks (holding the
// mapping) until the driver publishes a version in its metadata
// header. On timeout it unmaps before returning.
func mapAndWaitForVersion(path string, deadline time.Time, c clock.Clock) ([]byte, *cncfile.Metadata, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("connector: opening %s: %w", path, err)
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, nil, fmt.Errorf("connector: stat %s: %w", path, err)
	}
	if stat.Size < cncfile.MetaDataLength {
		return nil, nil, fmt.Errorf("connector: cnc file %s is shorter than the metadata header", path)
	}

	data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("connector: mmap %s: %w", path, err)
	}

	meta, err := cncfile.NewMetadata(data)
	if err != nil {
		unix.Munmap(data)
		return nil, nil, err
	}

	for {
		version := meta.Version()
		if version != 0 {
			if version != cncfile.Version {
				unix.Munmap(data)
				return nil, nil, &clienterrors.UnsupportedVersionError{Observed: version, Expected: cncfile.Version}
			}
			return data, meta, nil
		}

		if c.Now().After(deadline) {
			unix.Munmap(data)
			return nil, nil, &clienterrors.DriverTimeoutError{Reason: "driver never published a cnc version"}
		}
		c.Sleep(versionPollInterval)
	}
}

// heartbeatStatus classifies the driver heartbeat observed in the
// to-driver buffer's trailer. heartbeatZero means the driver has not
// published a first heartbeat yet; heartbeatStale means it has, but
// it is older than the driver timeout, which can mean the cnc file
// was left behind by a crashed driver.
type heartbeatStatus int

const (
	heartbeatZero heartbeatStatus = iota
	heartbeatStale
	heartbeatFresh
)

// classifyDriverHeartbeat reads the consumer heartbeat timestamp the
// driver maintains in the to-driver buffer's trailer and compares it
// against the driver timeout: it is stale once it is older than now
// minus timeout.
func classifyDriverHeartbeat(toDriverBuffer []byte, timeout time.Duration, c clock.Clock) (heartbeatStatus, error) {
	heartbeatMs, err := ringbuffer.ReadConsumerHeartbeatTime(toDriverBuffer)
	if err != nil {
		return heartbeatZero, fmt.Errorf("connector: reading driver heartbeat: %w", err)
	}
	if heartbeatMs == 0 {
		return heartbeatZero, nil
	}

	if heartbeatMs >= c.Now().UnixMilli()-timeout.Milliseconds() {
		return heartbeatFresh, nil
	}
	return heartbeatStale, nil
}
