// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package push

import (
	"context"
	"fmt"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"
)

// fakeSender implements Sender for testing
type fakeSender struct {
	messages   []*messaging.Message
	failTokens map[string]bool
}

func (f *fakeSender) Send(ctx context.Context, message *messaging.Message) (string, error) {
	f.messages = append(f.messages, message)
	if f.failTokens[message.Token] {
		return "", errs.New("registration token not registered")
	}
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

func TestSendToTokens(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		sender := &fakeSender{}
		dispatcher := NewDispatcherWithSender(zaptest.NewLogger(t), sender)

		result, err := dispatcher.SendToTokens(context.Background(), []string{"tA", "tB"}, Notification{
			Data: map[string]string{"type": "ring_ended"},
		})
		require.NoError(t, err)
		require.Equal(t, 2, result.SuccessCount)
		require.Equal(t, 0, result.FailureCount)
		require.Len(t, result.Results, 2)
		require.True(t, result.Results[0].Success)
		require.NotEmpty(t, result.Results[0].MessageID)
	})

	t.Run("one failure does not stop the batch", func(t *testing.T) {
		sender := &fakeSender{failTokens: map[string]bool{"tA": true}}
		dispatcher := NewDispatcherWithSender(zaptest.NewLogger(t), sender)

		result, err := dispatcher.SendToTokens(context.Background(), []string{"tA", "tB"}, Notification{
			Data: map[string]string{"type": "ring_ended"},
		})
		require.NoError(t, err)
		require.Equal(t, 1, result.SuccessCount)
		require.Equal(t, 1, result.FailureCount)

		// delivery to tB still happened after tA failed
		require.Len(t, sender.messages, 2)
		require.False(t, result.Results[0].Success)
		require.Contains(t, result.Results[0].Error, "not registered")
		require.True(t, result.Results[1].Success)
	})

	t.Run("empty token list", func(t *testing.T) {
		dispatcher := NewDispatcherWithSender(zaptest.NewLogger(t), &fakeSender{})

		_, err := dispatcher.SendToTokens(context.Background(), nil, Notification{})
		require.Error(t, err)
		require.True(t, ErrDispatcher.Has(err))
	})

	t.Run("disabled dispatcher", func(t *testing.T) {
		dispatcher := &Dispatcher{log: zaptest.NewLogger(t)}

		_, err := dispatcher.SendToTokens(context.Background(), []string{"tA"}, Notification{})
		require.Error(t, err)
		require.True(t, ErrDispatcher.Has(err))
	})
}

func TestBuildMessage(t *testing.T) {
	sender := &fakeSender{}
	dispatcher := NewDispatcherWithSender(zaptest.NewLogger(t), sender)

	_, err := dispatcher.SendToTokens(context.Background(), []string{"tA"}, Notification{
		Data: map[string]string{
			"type":   "ring_ended",
			"callId": "c1",
		},
	})
	require.NoError(t, err)
	require.Len(t, sender.messages, 1)

	message := sender.messages[0]
	require.Equal(t, "tA", message.Token)
	require.Equal(t, "ring_ended", message.Data["type"])
	require.Equal(t, "c1", message.Data["callId"])

	// high delivery priority plus the wake-in-background hints
	require.Equal(t, "high", message.Android.Priority)
	require.Equal(t, "10", message.APNS.Headers["apns-priority"])
	require.Equal(t, "background", message.APNS.Headers["apns-push-type"])
	require.True(t, message.APNS.Payload.Aps.ContentAvailable)

	// data-only payload unless a title or body is set
	require.Nil(t, message.Notification)
}

func TestBuildMessage_VisibleNotification(t *testing.T) {
	sender := &fakeSender{}
	dispatcher := NewDispatcherWithSender(zaptest.NewLogger(t), sender)

	_, err := dispatcher.SendToTokens(context.Background(), []string{"tA"}, Notification{
		Title: "Incoming call",
		Body:  "Alice is calling",
		Data:  map[string]string{"type": "incoming_call"},
	})
	require.NoError(t, err)

	message := sender.messages[0]
	require.NotNil(t, message.Notification)
	require.Equal(t, "Incoming call", message.Notification.Title)
	require.Equal(t, "Alice is calling", message.Notification.Body)
}

func TestCreateFirebaseOptions(t *testing.T) {
	t.Run("no credentials", func(t *testing.T) {
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
		_, err := createFirebaseOptions(Config{Enabled: true})
		require.Error(t, err)
	})

	t.Run("credentials path", func(t *testing.T) {
		opts, err := createFirebaseOptions(Config{Enabled: true, CredentialsPath: "/tmp/creds.json"})
		require.NoError(t, err)
		require.Len(t, opts, 1)
	})

	t.Run("credentials json", func(t *testing.T) {
		opts, err := createFirebaseOptions(Config{Enabled: true, CredentialsJSON: `{"type":"service_account"}`})
		require.NoError(t, err)
		require.Len(t, opts, 1)
	})
}
