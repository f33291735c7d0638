package recording

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/network"
	"github.com/banshee-data/activity.report/internal/sensor"
)

// DefaultBatchSize is the number of samples buffered before a store write.
const DefaultBatchSize = 100

// RecorderConfig configures a Recorder. At least one of CSV and Store is
// required; Trace is optional.
type RecorderConfig struct {
	CSV       *CSVWriter
	Store     *Store
	Trace     *Trace
	SessionID string
	BatchSize int
	Stats     *network.Stats
	Logger    *zap.Logger
}

// Recorder implements network.DatagramHandler, writing every decoded sample
// to the configured outputs.
type Recorder struct {
	csv       *CSVWriter
	store     *Store
	trace     *Trace
	sessionID string
	batchSize int
	stats     *network.Stats
	logger    *zap.Logger

	mu      sync.Mutex
	pending []sensor.RawSample
	samples int
	err     error
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.CSV == nil && cfg.Store == nil {
		return nil, errors.New("recorder needs a CSV writer or a store")
	}
	if cfg.Store != nil && cfg.SessionID == "" {
		return nil, errors.New("recorder needs a session id to write to the store")
	}
	r := &Recorder{
		csv:       cfg.CSV,
		store:     cfg.Store,
		trace:     cfg.Trace,
		sessionID: cfg.SessionID,
		batchSize: cfg.BatchSize,
		stats:     cfg.Stats,
		logger:    monitoring.OrNop(cfg.Logger),
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	if r.stats == nil {
		r.stats = network.NewStats(nil, r.logger)
	}
	return r, nil
}

// HandleDatagram implements network.DatagramHandler. Malformed datagrams are
// counted and skipped; write failures are logged once and kept for Close.
func (r *Recorder) HandleDatagram(ctx context.Context, payload []byte) {
	s, err := sensor.ParseDatagram(payload)
	if err != nil {
		r.stats.AddMalformed()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples++
	r.logger.Debug("sample recorded",
		zap.Int("record", r.samples),
		zap.Float64("timestamp", s.Timestamp),
		zap.Float64s("accel", []float64{s.Accel.X, s.Accel.Y, s.Accel.Z}),
		zap.Float64s("gyro", []float64{s.Gyro.X, s.Gyro.Y, s.Gyro.Z}))

	if r.csv != nil {
		if err := r.csv.Write(s); err != nil {
			r.fail(err)
		}
	}
	if r.trace != nil {
		r.trace.Add(s)
	}
	if r.store != nil {
		r.pending = append(r.pending, s)
		if len(r.pending) >= r.batchSize {
			r.flushLocked(ctx)
		}
	}
}

func (r *Recorder) flushLocked(ctx context.Context) {
	if r.csv != nil {
		if err := r.csv.Flush(); err != nil {
			r.fail(err)
		}
	}
	if r.store != nil && len(r.pending) > 0 {
		if err := r.store.AppendSamples(ctx, r.sessionID, r.pending); err != nil {
			r.fail(err)
		}
		r.pending = r.pending[:0]
	}
}

func (r *Recorder) fail(err error) {
	if r.err == nil {
		r.logger.Error("recording write failed", zap.Error(err))
		r.err = err
	}
}

// Samples returns the number of samples recorded.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Flush writes buffered samples and returns the first write error, if any.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(ctx)
	return r.err
}
