// Package pipeline turns a stream of sensor datagrams into classified
// activities.
//
// HandleDatagram runs on the single receive goroutine: it decodes the
// datagram, corrects its orientation and pushes it into the window buffer.
// Every ready window is classified on its own goroutine so receiving never
// waits on feature extraction or the model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/dispatch"
	"github.com/banshee-data/activity.report/internal/features"
	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/network"
	"github.com/banshee-data/activity.report/internal/orientation"
	"github.com/banshee-data/activity.report/internal/sensor"
	"github.com/banshee-data/activity.report/internal/window"
)

// Default windowing used by the live recognizer: 100 samples, no overlap.
const (
	DefaultWindowSize = 100
	DefaultStepSize   = 100
)

// Config configures a Pipeline.
type Config struct {
	WindowSize int
	StepSize   int
	// Alpha is the gravity smoothing coefficient; 0 selects
	// orientation.DefaultAlpha.
	Alpha float64
	// Features holds the extraction constants; the zero value selects
	// features.DefaultConfig.
	Features   features.Config
	Classifier *classifier.Adapter
	Dispatcher *dispatch.Dispatcher
	Stats      *network.Stats
	Logger     *zap.Logger
}

// Pipeline implements network.DatagramHandler. HandleDatagram and Restart
// must be called from one goroutine; the classification tasks they start
// are safe to run concurrently with each other.
type Pipeline struct {
	corrector  *orientation.Corrector
	buffer     *window.Buffer
	extractor  *features.Extractor
	classifier *classifier.Adapter
	dispatcher *dispatch.Dispatcher
	stats      *network.Stats
	logger     *zap.Logger

	tasks sync.WaitGroup
	fatal chan error

	mu     sync.RWMutex
	latest Result
}

// Result is the outcome of the most recently completed classification.
type Result struct {
	Activity classifier.Activity `json:"activity"`
	Time     time.Time           `json:"time"`
	Alerted  bool                `json:"alerted"`
}

// New creates a Pipeline with a freshly reset corrector and empty buffer.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("pipeline requires a classifier")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("pipeline requires a dispatcher")
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.StepSize == 0 {
		cfg.StepSize = cfg.WindowSize
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = orientation.DefaultAlpha
	}
	if cfg.Features == (features.Config{}) {
		cfg.Features = features.DefaultConfig()
	}

	corrector, err := orientation.New(cfg.Alpha)
	if err != nil {
		return nil, err
	}
	buffer, err := window.NewBuffer(cfg.WindowSize, cfg.StepSize)
	if err != nil {
		return nil, err
	}
	extractor, err := features.NewExtractor(cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("invalid feature config: %w", err)
	}

	logger := monitoring.OrNop(cfg.Logger)
	stats := cfg.Stats
	if stats == nil {
		stats = network.NewStats(nil, logger)
	}

	return &Pipeline{
		corrector:  corrector,
		buffer:     buffer,
		extractor:  extractor,
		classifier: cfg.Classifier,
		dispatcher: cfg.Dispatcher,
		stats:      stats,
		logger:     logger,
		fatal:      make(chan error, 1),
	}, nil
}

// HandleDatagram implements network.DatagramHandler. Malformed datagrams are
// counted and dropped.
func (p *Pipeline) HandleDatagram(ctx context.Context, payload []byte) {
	raw, err := sensor.ParseDatagram(payload)
	if err != nil {
		p.stats.AddMalformed()
		p.logger.Debug("dropping malformed datagram", zap.Error(err))
		return
	}

	p.buffer.Push(p.corrector.Correct(raw))

	w, ok := p.buffer.TakeReadyWindow()
	if !ok {
		return
	}
	p.stats.AddWindow()
	p.tasks.Add(1)
	go p.classify(ctx, w)
}

// classify runs on its own goroutine. A panic is logged and counted and never
// reaches the receive loop.
func (p *Pipeline) classify(ctx context.Context, w window.Window) {
	defer p.tasks.Done()
	defer func() {
		if r := recover(); r != nil {
			p.stats.AddTaskFailure()
			p.logger.Error("classification task panicked", zap.Any("panic", r), zap.Int("samples", len(w)))
		}
	}()

	_, vec := p.extractor.Extract(w)
	activity, err := p.classifier.Classify(vec)
	if err != nil {
		p.stats.AddTaskFailure()
		if errors.Is(err, classifier.ErrClassOutOfRange) {
			p.raiseFatal(err)
			return
		}
		p.logger.Warn("classification failed", zap.Error(err))
		return
	}

	ev, alerted := p.dispatcher.DispatchEvent(ctx, activity)
	p.stats.AddClassified()
	if alerted {
		p.stats.AddFall()
	}

	p.mu.Lock()
	p.latest = Result{Activity: activity, Time: ev.Time, Alerted: alerted}
	p.mu.Unlock()
}

// raiseFatal reports err on the Fatal channel once; later errors are logged.
func (p *Pipeline) raiseFatal(err error) {
	select {
	case p.fatal <- err:
		p.logger.Error("classifier does not match label set", zap.Error(err))
	default:
		p.logger.Debug("fatal error already reported", zap.Error(err))
	}
}

// Fatal delivers configuration errors discovered while classifying. The
// recognizer cannot continue once one arrives.
func (p *Pipeline) Fatal() <-chan error { return p.fatal }

// Latest returns the most recent classification, if any window has been
// classified yet.
func (p *Pipeline) Latest() (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, !p.latest.Time.IsZero()
}

// Restart resets the orientation estimate and discards buffered samples, for
// example when switching to a new capture or after a sensor reconnects.
// In-flight tasks are unaffected.
func (p *Pipeline) Restart() {
	p.corrector.Reset()
	p.buffer.Reset()
}

// Wait blocks until in-flight classification tasks finish or timeout
// elapses. It reports whether every task finished.
func (p *Pipeline) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WindowSize returns the configured window length in samples.
func (p *Pipeline) WindowSize() int { return p.buffer.Size() }

// StepSize returns the configured number of arrivals between windows.
func (p *Pipeline) StepSize() int { return p.buffer.Step() }
