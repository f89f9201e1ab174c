// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package rediscalls

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/StorXNetwork/CallSignal/signal"
)

func newTestStore(t *testing.T) *Store {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	store := NewStoreWithClient(zaptest.NewLogger(t), client)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestCallRecordRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	record, err := store.GetCallRecord(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, record)

	require.NoError(t, store.PutCallRecord(ctx, "user-1", &signal.CallRecord{
		CallID: "c1",
		Status: signal.StatusRinging,
	}))

	record, err = store.GetCallRecord(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "c1", record.CallID)
	require.Equal(t, signal.StatusRinging, record.Status)
	require.Empty(t, record.AcceptedByDeviceID)
}

func TestDeviceDirectory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	directory, err := store.GetDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, directory)

	require.NoError(t, store.PutDevice(ctx, "user-1", "d1", signal.Device{FCMToken: "t1"}))
	require.NoError(t, store.PutDevice(ctx, "user-1", "d2", signal.Device{FCMToken: "t2"}))
	require.NoError(t, store.PutDevice(ctx, "user-1", "d3", signal.Device{}))

	directory, err = store.GetDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, directory, 3)
	require.Equal(t, "t1", directory["d1"].FCMToken)
	require.Equal(t, "t2", directory["d2"].FCMToken)
	require.Empty(t, directory["d3"].FCMToken)

	// directories are per user
	other, err := store.GetDevices(ctx, "user-2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestAcceptCall(t *testing.T) {
	ctx := context.Background()

	t.Run("commits ringing record", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.PutCallRecord(ctx, "user-1", &signal.CallRecord{
			CallID: "c1",
			Status: signal.StatusRinging,
		}))

		record, committed, err := store.AcceptCall(ctx, "user-1", "c1", "d1")
		require.NoError(t, err)
		require.True(t, committed)
		require.Equal(t, signal.StatusInProgress, record.Status)
		require.Equal(t, "d1", record.AcceptedByDeviceID)

		stored, err := store.GetCallRecord(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, record, stored)
	})

	t.Run("aborts when record absent", func(t *testing.T) {
		store := newTestStore(t)

		record, committed, err := store.AcceptCall(ctx, "user-1", "c1", "d1")
		require.NoError(t, err)
		require.False(t, committed)
		require.Nil(t, record)
	})

	t.Run("aborts on stale callID without writing", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.PutCallRecord(ctx, "user-1", &signal.CallRecord{
			CallID: "c2",
			Status: signal.StatusRinging,
		}))

		_, committed, err := store.AcceptCall(ctx, "user-1", "c1", "d1")
		require.NoError(t, err)
		require.False(t, committed)

		stored, err := store.GetCallRecord(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, signal.StatusRinging, stored.Status)
		require.Empty(t, stored.AcceptedByDeviceID)
	})

	t.Run("aborts when not ringing", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.PutCallRecord(ctx, "user-1", &signal.CallRecord{
			CallID:             "c1",
			Status:             signal.StatusInProgress,
			AcceptedByDeviceID: "d2",
		}))

		_, committed, err := store.AcceptCall(ctx, "user-1", "c1", "d1")
		require.NoError(t, err)
		require.False(t, committed)

		stored, err := store.GetCallRecord(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, "d2", stored.AcceptedByDeviceID)
	})

	t.Run("rejects empty arguments", func(t *testing.T) {
		store := newTestStore(t)

		_, _, err := store.AcceptCall(ctx, "user-1", "", "d1")
		require.Error(t, err)
		_, _, err = store.AcceptCall(ctx, "user-1", "c1", "")
		require.Error(t, err)
	})

	t.Run("second accept loses", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.PutCallRecord(ctx, "user-1", &signal.CallRecord{
			CallID: "c1",
			Status: signal.StatusRinging,
		}))

		_, committed, err := store.AcceptCall(ctx, "user-1", "c1", "d1")
		require.NoError(t, err)
		require.True(t, committed)

		_, committed, err = store.AcceptCall(ctx, "user-1", "c1", "d2")
		require.NoError(t, err)
		require.False(t, committed)

		stored, err := store.GetCallRecord(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, "d1", stored.AcceptedByDeviceID)
	})
}

func TestAcceptCall_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.PutCallRecord(ctx, "user-1", &signal.CallRecord{
		CallID: "c1",
		Status: signal.StatusRinging,
	}))

	const attempts = 8
	var wg sync.WaitGroup
	winners := make(chan string, attempts)
	errors := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		deviceID := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, committed, err := store.AcceptCall(ctx, "user-1", "c1", "device-"+deviceID)
			if err != nil {
				errors <- err
				return
			}
			if committed {
				winners <- record.AcceptedByDeviceID
			}
		}()
	}
	wg.Wait()
	close(winners)
	close(errors)

	for err := range errors {
		require.NoError(t, err)
	}

	var committed []string
	for winner := range winners {
		committed = append(committed, winner)
	}
	require.Len(t, committed, 1)

	stored, err := store.GetCallRecord(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, signal.StatusInProgress, stored.Status)
	require.Equal(t, committed[0], stored.AcceptedByDeviceID)
}
