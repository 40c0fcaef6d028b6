// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package zephyr

import "github.com/zephyrmq/zephyr-go/clienterrors"

// DriverTimeoutError reports that a handshake or liveness check
// exceeded the configured driver timeout.
type DriverTimeoutError = clienterrors.DriverTimeoutError

// UnsupportedVersionError reports that the CnC file's observed
// version does not match the version this client was built against.
type UnsupportedVersionError = clienterrors.UnsupportedVersionError

// ClientClosedError reports that an operation was invoked after the
// client closed, whether by explicit Close or an inter-service
// timeout.
type ClientClosedError = clienterrors.ClientClosedError

// RegistrationError reports that the driver rejected a registration
// request.
type RegistrationError = clienterrors.RegistrationError

// InterServiceTimeoutError reports that the conductor's duty cycle
// went unserviced for longer than the configured inter-service
// timeout.
type InterServiceTimeoutError = clienterrors.InterServiceTimeoutError

// TransportError reports a transient failure writing to or reading
// from a shared-memory IPC primitive.
type TransportError = clienterrors.TransportError
