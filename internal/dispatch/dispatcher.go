// Package dispatch delivers classified activities to observers and raises a
// debounced alert when a fall is detected.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/location"
	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/timeutil"
)

// DefaultCooldown is the minimum spacing between two fall alerts.
const DefaultCooldown = 5 * time.Second

// Event is one classified window.
type Event struct {
	ID       uuid.UUID           `json:"id"`
	Activity classifier.Activity `json:"activity"`
	Time     time.Time           `json:"time"`
}

// FallAlert is raised for a fall that is not part of an ongoing one.
type FallAlert struct {
	ID       uuid.UUID     `json:"id"`
	Time     time.Time     `json:"time"`
	Location *location.Fix `json:"location,omitempty"`
}

// Observer is notified of every classified window.
type Observer interface {
	ActivityDetected(ctx context.Context, ev Event) error
}

// Alerter delivers fall alerts.
type Alerter interface {
	NotifyFall(ctx context.Context, alert FallAlert) error
}

// Config configures a Dispatcher. Zero values select defaults.
type Config struct {
	Cooldown time.Duration
	Clock    timeutil.Clock
	Observer Observer
	Alerter  Alerter
	Location location.Provider
	Logger   *zap.Logger
}

// Dispatcher is safe for concurrent use; classification tasks call Dispatch
// from their own goroutines.
type Dispatcher struct {
	cooldown time.Duration
	clock    timeutil.Clock
	observer Observer
	alerter  Alerter
	location location.Provider
	logger   *zap.Logger

	mu sync.Mutex
	// lastFall is the time of the most recent fall classification. The zero
	// value is far enough in the past that the first fall always alerts.
	lastFall time.Time
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		cooldown: cfg.Cooldown,
		clock:    cfg.Clock,
		observer: cfg.Observer,
		alerter:  cfg.Alerter,
		location: cfg.Location,
		logger:   monitoring.OrNop(cfg.Logger),
	}
	if d.cooldown <= 0 {
		d.cooldown = DefaultCooldown
	}
	if d.clock == nil {
		d.clock = timeutil.RealClock{}
	}
	return d
}

// Dispatch records activity a and reports whether a fall alert was raised.
// Sink errors are logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, a classifier.Activity) bool {
	_, alerted := d.DispatchEvent(ctx, a)
	return alerted
}

// DispatchEvent is Dispatch, also returning the event delivered to the
// observer. The event time is read from the dispatcher's clock.
func (d *Dispatcher) DispatchEvent(ctx context.Context, a classifier.Activity) (Event, bool) {
	now := d.clock.Now()
	ev := Event{ID: uuid.New(), Activity: a, Time: now}

	if d.observer != nil {
		if err := d.observer.ActivityDetected(ctx, ev); err != nil {
			d.logger.Warn("activity observer failed", zap.String("activity", a.String()), zap.Error(err))
		}
	}

	if a != classifier.Falling || !d.recordFall(now) {
		return ev, false
	}

	alert := FallAlert{ID: uuid.New(), Time: now}
	if d.location != nil {
		if fix, ok := d.location.Location(); ok {
			alert.Location = &fix
		}
	}
	d.logger.Info("fall detected", zap.Stringer("alert_id", alert.ID), zap.Time("time", now))

	if d.alerter != nil {
		if err := d.alerter.NotifyFall(ctx, alert); err != nil {
			d.logger.Error("fall alert delivery failed", zap.Stringer("alert_id", alert.ID), zap.Error(err))
		}
	}
	return ev, true
}

// recordFall updates the debounce state for a fall classified at now and
// reports whether it starts a new fall. Sustained falls keep extending the
// quiet period; a late call never moves lastFall backwards.
func (d *Dispatcher) recordFall(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	isNew := d.lastFall.IsZero() || now.Sub(d.lastFall) >= d.cooldown
	if now.After(d.lastFall) {
		d.lastFall = now
	}
	return isNew
}

// LastFall returns the time of the most recent fall classification.
func (d *Dispatcher) LastFall() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastFall
}

// Reset forgets the debounce state.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFall = time.Time{}
}
