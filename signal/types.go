// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package signal

// CallStatus is the state of a user's active call.
type CallStatus string

// Call status constants.
const (
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in_progress"
)

// NotificationTypeRingEnded is sent to devices that lost the accept race.
const NotificationTypeRingEnded = "ring_ended"

// CallRecord is the authoritative state of a user's active call, stored at
// calls/{uid}/activeCall. It is created by the ring-start collaborator; this
// service only ever performs the single ringing -> in_progress transition.
type CallRecord struct {
	CallID             string     `json:"callId"`
	Status             CallStatus `json:"status"`
	AcceptedByDeviceID string     `json:"acceptedByDeviceId,omitempty"`
}

// Device is one entry of a user's device directory.
type Device struct {
	FCMToken string `json:"fcmToken,omitempty"`
}

// DeviceDirectory maps device id to its registered device entry, stored at
// calls/{uid}/devices. Registration lifecycle is owned externally; the
// service only reads it.
type DeviceDirectory map[string]Device

// AcceptRequest is the body of POST /acceptCall. Token and Channel are opaque
// passthrough values echoed back so the caller can join the media session.
type AcceptRequest struct {
	CallID             string `json:"callId"`
	AcceptedByDeviceID string `json:"acceptedByDeviceId"`
	CurrentUID         string `json:"currentUid"`
	Token              string `json:"token"`
	Channel            string `json:"channel"`
}

// Validate checks that all required fields are present.
func (r *AcceptRequest) Validate() error {
	switch {
	case r.CallID == "":
		return ErrValidation.New("callId is required")
	case r.AcceptedByDeviceID == "":
		return ErrValidation.New("acceptedByDeviceId is required")
	case r.CurrentUID == "":
		return ErrValidation.New("currentUid is required")
	case r.Token == "":
		return ErrValidation.New("token is required")
	case r.Channel == "":
		return ErrValidation.New("channel is required")
	}
	return nil
}

// AcceptResult is returned to the accepting device after a committed
// transition.
type AcceptResult struct {
	CallID             string `json:"callId"`
	AcceptedByDeviceID string `json:"acceptedByDeviceId"`
	Token              string `json:"token"`
	Channel            string `json:"channel"`
}

// RingingRequest is the body of POST /sendRingingNotification.
type RingingRequest struct {
	FCMTokens []string `json:"fcmTokens"`
	CallerID  string   `json:"callerId"`
	CallID    string   `json:"callId"`
	Type      string   `json:"type"`
	Channel   string   `json:"channel"`
	Token     string   `json:"token"`
}

// Validate checks that all required fields are present.
func (r *RingingRequest) Validate() error {
	switch {
	case len(r.FCMTokens) == 0:
		return ErrValidation.New("fcmTokens must be a non-empty array")
	case r.CallerID == "":
		return ErrValidation.New("callerId is required")
	case r.CallID == "":
		return ErrValidation.New("callId is required")
	case r.Type == "":
		return ErrValidation.New("type is required")
	case r.Channel == "":
		return ErrValidation.New("channel is required")
	case r.Token == "":
		return ErrValidation.New("token is required")
	}
	return nil
}
