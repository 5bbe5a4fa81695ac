package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

const defaultQueueSize = 32

// RowStore persists recorded rows
type RowStore interface {
	CreateSession(ctx context.Context, deviceType, deviceID string, config any) (int64, error)
	StoreRow(ctx context.Context, sessionID int64, row *spectrum.Row, numSamples int) error
}

// UpdateSource publishes applied rows
type UpdateSource interface {
	Subscribe(buffer int) (<-chan waterfall.Update, func())
}

// WithQueueSize sets how many applied rows may wait for the database before
// new ones are dropped
func WithQueueSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		if size > 0 {
			r.queueSize = size
		}
	}
}

// WithRecorderLogger sets the logger for the recorder
func WithRecorderLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// Recorder stores every row applied to the waterfall in a new session of the
// store, so it can be replayed or rendered later
type Recorder struct {
	store      RowStore
	deviceType string
	deviceID   string
	config     any

	queueSize int
	logger    *slog.Logger
}

// NewRecorder creates a recorder for one device. config is stored with the
// session.
func NewRecorder(store RowStore, deviceType, deviceID string, config any, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:      store,
		deviceType: deviceType,
		deviceID:   deviceID,
		config:     config,
		queueSize:  defaultQueueSize,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run creates the session and records the rows published by source until ctx
// is done. It returns the session ID and a channel closed when recording has
// stopped.
func (r *Recorder) Run(ctx context.Context, source UpdateSource) (int64, <-chan struct{}, error) {
	sessionID, err := r.store.CreateSession(ctx, r.deviceType, r.deviceID, r.config)
	if err != nil {
		return 0, nil, fmt.Errorf("creating session for device %s: %w", r.deviceID, err)
	}

	updates, unsubscribe := source.Subscribe(r.queueSize)
	done := make(chan struct{})

	r.logger.Info("recording",
		slog.Int64("sessionID", sessionID),
		slog.String("device", r.deviceType),
		slog.String("deviceID", r.deviceID))

	go func() {
		defer close(done)
		defer unsubscribe()

		var stored int
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("recording stopped", slog.Int("rows", stored))
				return

			case u, ok := <-updates:
				if !ok {
					return
				}
				if err := r.store.StoreRow(ctx, sessionID, u.Row, 0); err != nil {
					if ctx.Err() != nil {
						continue
					}
					r.logger.Error(fmt.Sprintf("storing row: %s", err.Error()))
					continue
				}
				stored++
			}
		}
	}()

	return sessionID, done, nil
}
