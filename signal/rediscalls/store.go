// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package rediscalls implements the call record store on Redis.
//
// The ringing -> in_progress transition runs as an optimistic WATCH/MULTI
// transaction, so Redis is the single source of serialization truth for a
// user's call record and the invariant holds across service instances.
package rediscalls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/CallSignal/signal"
)

var (
	mon = monkit.Package()
)

// Error is the default error class for the rediscalls package.
var Error = errs.Class("rediscalls")

// Config contains Redis connection configuration.
type Config struct {
	URL              string        `yaml:"url" mapstructure:"url"`
	DialTimeout      time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxAcceptRetries int           `yaml:"max_accept_retries" mapstructure:"max_accept_retries"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return Error.New("URL is required")
	}
	if c.MaxAcceptRetries < 0 {
		return Error.New("MaxAcceptRetries must be non-negative")
	}
	return nil
}

const defaultMaxAcceptRetries = 5

// Store provides access to call records and device directories.
type Store struct {
	log              *zap.Logger
	client           *redis.Client
	maxAcceptRetries int
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, log *zap.Logger, config Config) (*Store, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.Combine(Error.Wrap(err), client.Close())
	}

	maxRetries := config.MaxAcceptRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxAcceptRetries
	}

	return &Store{log: log, client: client, maxAcceptRetries: maxRetries}, nil
}

// NewStoreWithClient wraps an existing client, used by tests.
func NewStoreWithClient(log *zap.Logger, client *redis.Client) *Store {
	return &Store{log: log, client: client, maxAcceptRetries: defaultMaxAcceptRetries}
}

// Close closes the underlying client.
func (store *Store) Close() error {
	return Error.Wrap(store.client.Close())
}

func callRecordKey(uid string) string {
	return fmt.Sprintf("calls/%s/activeCall", uid)
}

func devicesKey(uid string) string {
	return fmt.Sprintf("calls/%s/devices", uid)
}

// GetCallRecord returns the user's active call record, or nil when absent.
func (store *Store) GetCallRecord(ctx context.Context, uid string) (_ *signal.CallRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := store.client.Get(ctx, callRecordKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var record signal.CallRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, Error.Wrap(err)
	}
	return &record, nil
}

// PutCallRecord overwrites the user's active call record. The signaling
// service never calls this; it is the seam used by the ring-start
// collaborator and by tests.
func (store *Store) PutCallRecord(ctx context.Context, uid string, record *signal.CallRecord) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := json.Marshal(record)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(store.client.Set(ctx, callRecordKey(uid), data, redis.KeepTTL).Err())
}

// GetDevices returns the user's registered device directory.
func (store *Store) GetDevices(ctx context.Context, uid string) (_ signal.DeviceDirectory, err error) {
	defer mon.Task()(&ctx)(&err)

	fields, err := store.client.HGetAll(ctx, devicesKey(uid)).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}

	directory := make(signal.DeviceDirectory, len(fields))
	for deviceID, raw := range fields {
		var device signal.Device
		if err := json.Unmarshal([]byte(raw), &device); err != nil {
			return nil, Error.Wrap(err)
		}
		directory[deviceID] = device
	}
	return directory, nil
}

// PutDevice registers or updates one device directory entry. Registration is
// owned by an external collaborator; exposed here for it and for tests.
func (store *Store) PutDevice(ctx context.Context, uid, deviceID string, device signal.Device) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := json.Marshal(device)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(store.client.HSet(ctx, devicesKey(uid), deviceID, data).Err())
}

// AcceptCall atomically moves the user's call record from ringing to
// in_progress when the stored callID matches. The read-modify-write runs
// under WATCH; a concurrent write to the record fails the EXEC and the
// attempt is retried against the fresh state, so exactly one of several
// concurrent accepts commits and the rest abort against in_progress.
func (store *Store) AcceptCall(ctx context.Context, uid, callID, deviceID string) (_ *signal.CallRecord, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if callID == "" || deviceID == "" {
		return nil, false, Error.New("callID and deviceID are required")
	}

	key := callRecordKey(uid)

	var updated *signal.CallRecord
	var committed bool

	txn := func(tx *redis.Tx) error {
		updated, committed = nil, false

		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil // no active call, abort without writing
		}
		if err != nil {
			return err
		}

		var record signal.CallRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		if record.CallID != callID || record.Status != signal.StatusRinging {
			return nil // stale callID or already transitioned, abort
		}

		record.Status = signal.StatusInProgress
		record.AcceptedByDeviceID = deviceID

		out, err := json.Marshal(record)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}

		updated = &record
		committed = true
		return nil
	}

	for attempt := 0; attempt < store.maxAcceptRetries; attempt++ {
		err := store.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			mon.Counter("accept_tx_retries").Inc(1)
			continue
		}
		if err != nil {
			return nil, false, Error.Wrap(err)
		}
		return updated, committed, nil
	}

	return nil, false, Error.New("accept transaction contended after %d attempts", store.maxAcceptRetries)
}
