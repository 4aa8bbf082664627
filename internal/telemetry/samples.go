package telemetry

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/uploadwaf/internal/types"
)

/*
 * Sampled request buffer.
 *
 * Sample runs on the request path and must never block it: samples go into
 * a bounded channel and a single worker drains them into a SampleStore.
 * When the channel is full the sample is dropped and counted.
 *
 * Close stops intake, drains what is already queued, then returns.
 */

// ErrBufferClosed is returned by Sample after Close.
var ErrBufferClosed = errors.New("sample buffer closed")

// SampleFilter selects stored samples. Zero fields match everything.
type SampleFilter struct {
	PolicyID types.PolicyID
	Rule     string
	Limit    int
}

// SampleStore persists sampled requests.
type SampleStore interface {
	InsertSample(ctx context.Context, s types.SampledRequest) error
	ListSamples(ctx context.Context, f SampleFilter) ([]types.SampledRequest, error)
}

// BufferConfig configures a SampleBuffer.
type BufferConfig struct {
	Size         int
	Rate         float64 // fraction of samples kept, (0, 1]
	WriteTimeout time.Duration
}

// SampleBuffer is an asynchronous rules.Sampler.
type SampleBuffer struct {
	store   SampleStore
	cfg     BufferConfig
	logger  zerolog.Logger
	entries chan types.SampledRequest
	dropped atomic.Int64
	written atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewSampleBuffer starts a buffer writing to store.
func NewSampleBuffer(store SampleStore, cfg BufferConfig, logger zerolog.Logger) *SampleBuffer {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.Rate <= 0 || cfg.Rate > 1 {
		cfg.Rate = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	b := &SampleBuffer{
		store:   store,
		cfg:     cfg,
		logger:  logger.With().Str("component", "samples").Logger(),
		entries: make(chan types.SampledRequest, cfg.Size),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Sample implements rules.Sampler.
func (b *SampleBuffer) Sample(s types.SampledRequest) error {
	if b.cfg.Rate < 1 && rand.Float64() >= b.cfg.Rate {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBufferClosed
	}

	if s.SampleID == "" {
		s.SampleID = types.NewSampleID()
	}
	select {
	case b.entries <- s:
	default:
		b.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of samples lost to a full buffer.
func (b *SampleBuffer) Dropped() int64 {
	return b.dropped.Load()
}

// Written returns the number of samples persisted.
func (b *SampleBuffer) Written() int64 {
	return b.written.Load()
}

// Close stops intake and waits for queued samples to be written or ctx to expire.
func (b *SampleBuffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.entries)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *SampleBuffer) run() {
	defer close(b.done)
	for s := range b.entries {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.WriteTimeout)
		err := b.store.InsertSample(ctx, s)
		cancel()
		if err != nil {
			b.logger.Warn().Err(err).Str("sample_id", string(s.SampleID)).Msg("failed to persist sample")
			continue
		}
		b.written.Add(1)
	}
}
