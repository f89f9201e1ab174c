// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package signal coordinates multi-device call signaling: when a call rings
// on several registered devices of a user, exactly one device may accept it
// and all siblings are told to stop ringing.
package signal

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/StorXNetwork/CallSignal/signal/push"
)

var (
	mon = monkit.Package()
)

// Service orchestrates call acceptance and ringing notifications.
type Service struct {
	log        *zap.Logger
	db         DB
	dispatcher Dispatcher
}

// NewService creates a new call signaling service.
func NewService(log *zap.Logger, db DB, dispatcher Dispatcher) *Service {
	return &Service{
		log:        log,
		db:         db,
		dispatcher: dispatcher,
	}
}

// AcceptCall runs the first-writer-wins acceptance of a ringing call. On
// commit it notifies the losing devices to stop ringing; a failure of that
// fan-out is logged but never fails the already committed accept.
func (service *Service) AcceptCall(ctx context.Context, req AcceptRequest) (_ *AcceptResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	record, committed, err := service.db.AcceptCall(ctx, req.CurrentUID, req.CallID, req.AcceptedByDeviceID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !committed {
		mon.Counter("accept_conflicts").Inc(1)
		return nil, service.conflictError(ctx, req.CurrentUID)
	}

	service.log.Info("call accepted",
		zap.String("uid", req.CurrentUID),
		zap.String("call_id", record.CallID),
		zap.String("device_id", record.AcceptedByDeviceID))

	service.notifyRingEnded(ctx, req)

	return &AcceptResult{
		CallID:             req.CallID,
		AcceptedByDeviceID: req.AcceptedByDeviceID,
		Token:              req.Token,
		Channel:            req.Channel,
	}, nil
}

// conflictError reports why an accept attempt was aborted. The re-read is a
// best-effort diagnostic: state may change again between abort and re-read.
func (service *Service) conflictError(ctx context.Context, uid string) error {
	record, err := service.db.GetCallRecord(ctx, uid)
	if err != nil {
		service.log.Warn("failed to re-read call record after aborted accept",
			zap.String("uid", uid), zap.Error(err))
		return ErrConflict.New(conflictInactiveCall)
	}
	if record != nil && record.Status == StatusInProgress {
		return ErrConflict.New(conflictAlreadyAccepted)
	}
	return ErrConflict.New(conflictInactiveCall)
}

// notifyRingEnded fans a stop-ringing signal out to every registered device
// other than the acceptor. Errors here are swallowed: the accept has already
// committed and must be honored.
func (service *Service) notifyRingEnded(ctx context.Context, req AcceptRequest) {
	devices, err := service.db.GetDevices(ctx, req.CurrentUID)
	if err != nil {
		service.log.Warn("failed to read device directory for ring ended fan-out",
			zap.String("uid", req.CurrentUID),
			zap.String("call_id", req.CallID),
			zap.Error(err))
		mon.Counter("ring_ended_failures").Inc(1)
		return
	}

	tokens := ringEndedTargets(devices, req.AcceptedByDeviceID)
	if len(tokens) == 0 {
		return
	}

	result, err := service.dispatcher.SendToTokens(ctx, tokens, push.Notification{
		Data: map[string]string{
			"type":               NotificationTypeRingEnded,
			"callId":             req.CallID,
			"acceptedByDeviceId": req.AcceptedByDeviceID,
		},
	})
	if err != nil {
		service.log.Warn("ring ended dispatch failed",
			zap.String("uid", req.CurrentUID),
			zap.String("call_id", req.CallID),
			zap.Error(err))
		mon.Counter("ring_ended_failures").Inc(1)
		return
	}

	service.log.Info("ring ended dispatched",
		zap.String("uid", req.CurrentUID),
		zap.String("call_id", req.CallID),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))
}

// ringEndedTargets computes the loser token set: every directory entry whose
// device id differs from the acceptor and that has a token registered.
func ringEndedTargets(devices DeviceDirectory, acceptedByDeviceID string) []string {
	tokens := make([]string, 0, len(devices))
	for deviceID, device := range devices {
		if deviceID == acceptedByDeviceID || device.FCMToken == "" {
			continue
		}
		tokens = append(tokens, device.FCMToken)
	}
	return tokens
}

// NotifyRinging dispatches one ringing notification batch to the given
// tokens, carrying all request fields verbatim. Partial delivery failure is
// reported as data, not as an error.
func (service *Service) NotifyRinging(ctx context.Context, req RingingRequest) (_ *push.BatchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	result, err := service.dispatcher.SendToTokens(ctx, req.FCMTokens, push.Notification{
		Data: map[string]string{
			"type":     req.Type,
			"callerId": req.CallerID,
			"callId":   req.CallID,
			"channel":  req.Channel,
			"token":    req.Token,
		},
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	service.log.Info("ringing notification dispatched",
		zap.String("call_id", req.CallID),
		zap.String("caller_id", req.CallerID),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))

	return result, nil
}
