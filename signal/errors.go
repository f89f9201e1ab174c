// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package signal

import (
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for the signal package.
	Error = errs.Class("signal")

	// ErrValidation is returned when a request is missing required fields.
	ErrValidation = errs.Class("signal: validation")

	// ErrConflict is returned when an accept attempt loses to another device
	// or targets a call that is no longer ringing.
	ErrConflict = errs.Class("signal: conflict")
)

// Conflict diagnostic messages. The distinction is derived from a best-effort
// re-read after an aborted transition, see Service.conflictError.
const (
	conflictAlreadyAccepted = "call already accepted by another device"
	conflictInactiveCall    = "call no longer active or invalid call id"
)
