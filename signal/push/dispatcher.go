// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package push delivers call signaling payloads over FCM.
package push

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	mon = monkit.Package()
)

// ErrDispatcher represents errors from the push dispatcher.
var ErrDispatcher = errs.Class("push")

// Sender is the transport primitive behind the dispatcher. *messaging.Client
// satisfies it; tests substitute a fake.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Dispatcher sends push messages to batches of device tokens.
type Dispatcher struct {
	log    *zap.Logger
	sender Sender
	config Config
}

// NewDispatcher creates an FCM-backed dispatcher.
func NewDispatcher(ctx context.Context, log *zap.Logger, config Config) (*Dispatcher, error) {
	if !config.Enabled {
		log.Info("FCM push dispatch is disabled")
		return &Dispatcher{log: log, config: config}, nil
	}

	opts, err := createFirebaseOptions(config)
	if err != nil {
		return nil, ErrDispatcher.Wrap(err)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID: config.ProjectID,
	}, opts...)
	if err != nil {
		return nil, ErrDispatcher.Wrap(fmt.Errorf("failed to initialize Firebase app: %w", err))
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, ErrDispatcher.Wrap(fmt.Errorf("failed to create FCM messaging client: %w", err))
	}

	log.Info("FCM push dispatcher initialized", zap.String("project_id", config.ProjectID))
	return &Dispatcher{log: log, sender: client, config: config}, nil
}

// NewDispatcherWithSender creates a dispatcher around an existing sender.
func NewDispatcherWithSender(log *zap.Logger, sender Sender) *Dispatcher {
	return &Dispatcher{log: log, sender: sender, config: Config{Enabled: true}}
}

// createFirebaseOptions creates Firebase client options based on config.
func createFirebaseOptions(config Config) ([]option.ClientOption, error) {
	switch {
	case config.CredentialsPath != "":
		return []option.ClientOption{option.WithCredentialsFile(config.CredentialsPath)}, nil
	case config.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(config.CredentialsJSON))}, nil
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		return []option.ClientOption{}, nil // Use default credentials
	default:
		return nil, ErrDispatcher.New("Firebase credentials not provided")
	}
}

// SendToTokens delivers the notification to each token independently. One
// token's failure never affects delivery to the rest; per-token outcomes and
// aggregate counts are returned. The token list must be non-empty.
func (d *Dispatcher) SendToTokens(ctx context.Context, tokens []string, notification Notification) (_ *BatchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if !d.config.Enabled || d.sender == nil {
		return nil, ErrDispatcher.New("FCM push dispatch is disabled")
	}
	if len(tokens) == 0 {
		return nil, ErrDispatcher.New("no tokens to send to")
	}

	result := &BatchResult{Results: make([]SendResult, 0, len(tokens))}
	for _, token := range tokens {
		msgID, sendErr := d.sender.Send(ctx, d.buildMessage(token, notification))
		if sendErr != nil {
			d.log.Warn("Failed to send notification",
				zap.String("token", tokenPreview(token)),
				zap.Error(sendErr))
			mon.Counter("push_send_failures").Inc(1)
			result.FailureCount++
			result.Results = append(result.Results, SendResult{Token: token, Error: sendErr.Error()})
			continue
		}
		result.SuccessCount++
		result.Results = append(result.Results, SendResult{Token: token, Success: true, MessageID: msgID})
	}

	return result, nil
}

// buildMessage constructs a high priority message that wakes the receiving
// app in the background so it can react while not foregrounded.
func (d *Dispatcher) buildMessage(token string, notification Notification) *messaging.Message {
	message := &messaging.Message{
		Token: token,
		Data:  notification.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "background",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}

	if notification.Title != "" || notification.Body != "" {
		message.Notification = &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		}
	}

	return message
}

func tokenPreview(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}
