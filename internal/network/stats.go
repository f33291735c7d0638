package network

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/timeutil"
)

// Counters is one set of pipeline counters.
type Counters struct {
	Datagrams      int64 `json:"datagrams"`
	Bytes          int64 `json:"bytes"`
	Malformed      int64 `json:"malformed"`
	Windows        int64 `json:"windows"`
	Classified     int64 `json:"classified"`
	Falls          int64 `json:"falls"`
	TaskFailures   int64 `json:"task_failures"`
	ForwardDropped int64 `json:"forward_dropped"`
}

// Snapshot is a point-in-time view of the cumulative counters.
type Snapshot struct {
	Counters
	Started       time.Time `json:"started"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// Stats tracks ingestion and classification counters. Interval counters are
// reset by GetAndReset; totals only grow.
type Stats struct {
	mu        sync.Mutex
	interval  Counters
	total     Counters
	started   time.Time
	lastReset time.Time

	clock  timeutil.Clock
	logger *zap.Logger
}

// NewStats creates a Stats. A nil clock uses wall time.
func NewStats(clock timeutil.Clock, logger *zap.Logger) *Stats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()
	return &Stats{
		started:   now,
		lastReset: now,
		clock:     clock,
		logger:    monitoring.OrNop(logger),
	}
}

func (s *Stats) add(f func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.interval)
	f(&s.total)
}

// AddDatagram counts one received datagram of n bytes.
func (s *Stats) AddDatagram(n int) {
	s.add(func(c *Counters) {
		c.Datagrams++
		c.Bytes += int64(n)
	})
}

// AddMalformed counts a datagram that failed to decode.
func (s *Stats) AddMalformed() { s.add(func(c *Counters) { c.Malformed++ }) }

// AddWindow counts a window handed to a classification task.
func (s *Stats) AddWindow() { s.add(func(c *Counters) { c.Windows++ }) }

// AddClassified counts a successfully classified window.
func (s *Stats) AddClassified() { s.add(func(c *Counters) { c.Classified++ }) }

// AddFall counts a raised fall alert.
func (s *Stats) AddFall() { s.add(func(c *Counters) { c.Falls++ }) }

// AddTaskFailure counts a classification task that errored or panicked.
func (s *Stats) AddTaskFailure() { s.add(func(c *Counters) { c.TaskFailures++ }) }

// AddDropped counts a datagram the forwarder could not queue.
func (s *Stats) AddDropped() { s.add(func(c *Counters) { c.ForwardDropped++ }) }

// GetAndReset returns the interval counters and the time they cover, then
// starts a new interval.
func (s *Stats) GetAndReset() (Counters, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	c, d := s.interval, now.Sub(s.lastReset)
	s.interval = Counters{}
	s.lastReset = now
	return c, d
}

// Snapshot returns the cumulative counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Counters:      s.total,
		Started:       s.started,
		UptimeSeconds: s.clock.Since(s.started).Seconds(),
	}
}

// LogStats logs the interval counters as rates and resets them. Quiet
// intervals are not logged.
func (s *Stats) LogStats() {
	c, d := s.GetAndReset()
	if c.Datagrams == 0 && c.Malformed == 0 && c.ForwardDropped == 0 {
		return
	}
	secs := d.Seconds()
	if secs <= 0 {
		secs = 1
	}

	fields := []zap.Field{
		zap.Float64("datagrams_per_sec", float64(c.Datagrams)/secs),
		zap.String("bytes_per_sec", humanize.Bytes(uint64(float64(c.Bytes)/secs))),
		zap.String("datagrams", humanize.Comma(c.Datagrams)),
		zap.Int64("windows", c.Windows),
		zap.Int64("classified", c.Classified),
	}
	if c.Malformed > 0 {
		fields = append(fields, zap.Int64("malformed", c.Malformed))
	}
	if c.Falls > 0 {
		fields = append(fields, zap.Int64("falls", c.Falls))
	}
	if c.TaskFailures > 0 {
		fields = append(fields, zap.Int64("task_failures", c.TaskFailures))
	}
	if c.ForwardDropped > 0 {
		fields = append(fields, zap.Int64("forward_dropped", c.ForwardDropped))
	}
	s.logger.Info("sensor stats", fields...)
}
