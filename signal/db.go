// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package signal

import (
	"context"

	"github.com/StorXNetwork/CallSignal/signal/push"
)

// DB is the call record store consumed by the service.
//
// AcceptCall must be a single atomic conditional write: the store, not the
// service process, serializes concurrent accepts for a user, so multiple
// service instances can run without extra coordination.
type DB interface {
	// GetCallRecord returns the user's active call record, or nil when absent.
	GetCallRecord(ctx context.Context, uid string) (*CallRecord, error)

	// GetDevices returns the user's registered device directory.
	GetDevices(ctx context.Context, uid string) (DeviceDirectory, error)

	// AcceptCall atomically moves the record from ringing to in_progress when
	// the stored callID matches. It reports committed=false without mutating
	// anything when the record is absent, the callID is stale, or the status
	// is not ringing. Exactly one of several concurrent attempts commits.
	AcceptCall(ctx context.Context, uid, callID, deviceID string) (_ *CallRecord, committed bool, _ error)
}

// Dispatcher delivers a push payload to a batch of tokens, reporting
// per-token outcomes without failing the batch on partial failure.
type Dispatcher interface {
	SendToTokens(ctx context.Context, tokens []string, notification push.Notification) (*push.BatchResult, error)
}
