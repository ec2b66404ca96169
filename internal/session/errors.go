// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

var (
	// ErrShuttingDown rejects work submitted after Shutdown was called.
	ErrShuttingDown = errors.New("session shutting down")

	// ErrAuthentication marks a login the device rejected or answered
	// with an error echo.
	ErrAuthentication = errors.New("authentication failed")

	// ErrLoginTimeout marks a login that drew no response with either
	// password form.
	ErrLoginTimeout = errors.New("no response to login")

	// ErrDeviceOn rejects a local-only intensity change while the
	// device is running.
	ErrDeviceOn = errors.New("device is on")
)
