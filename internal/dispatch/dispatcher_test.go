package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/location"
	"github.com/banshee-data/activity.report/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
	alerts []FallAlert
	err    error
}

func (r *recorder) ActivityDetected(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) NotifyFall(_ context.Context, a FallAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), len(r.alerts)
}

func newTestDispatcher(rec *recorder) (*Dispatcher, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(epoch)
	d := New(Config{Clock: clock, Observer: rec, Alerter: rec})
	return d, clock
}

func TestDispatch_FallsWithinCooldownAlertOnce(t *testing.T) {
	rec := &recorder{}
	d, clock := newTestDispatcher(rec)
	ctx := context.Background()

	assert.True(t, d.Dispatch(ctx, classifier.Falling))
	clock.Advance(3 * time.Second)
	assert.False(t, d.Dispatch(ctx, classifier.Falling))

	events, alerts := rec.counts()
	assert.Equal(t, 2, events)
	assert.Equal(t, 1, alerts)
}

func TestDispatch_FallsBeyondCooldownAlertTwice(t *testing.T) {
	rec := &recorder{}
	d, clock := newTestDispatcher(rec)
	ctx := context.Background()

	assert.True(t, d.Dispatch(ctx, classifier.Falling))
	clock.Advance(6 * time.Second)
	assert.True(t, d.Dispatch(ctx, classifier.Falling))

	_, alerts := rec.counts()
	assert.Equal(t, 2, alerts)
}

func TestDispatch_CooldownBoundaryIsNewFall(t *testing.T) {
	rec := &recorder{}
	d, clock := newTestDispatcher(rec)

	d.Dispatch(context.Background(), classifier.Falling)
	clock.Advance(DefaultCooldown)
	assert.True(t, d.Dispatch(context.Background(), classifier.Falling))
}

func TestDispatch_SustainedFallSuppressed(t *testing.T) {
	rec := &recorder{}
	d, clock := newTestDispatcher(rec)
	ctx := context.Background()

	// A fall classified every second for ten seconds is one event.
	for i := 0; i < 10; i++ {
		d.Dispatch(ctx, classifier.Falling)
		clock.Advance(time.Second)
	}
	_, alerts := rec.counts()
	assert.Equal(t, 1, alerts)
	assert.Equal(t, epoch.Add(9*time.Second), d.LastFall())
}

func TestDispatch_OutOfOrderNeverMovesBackwards(t *testing.T) {
	rec := &recorder{}
	d, clock := newTestDispatcher(rec)
	ctx := context.Background()

	clock.Set(epoch.Add(10 * time.Second))
	require.True(t, d.Dispatch(ctx, classifier.Falling))

	// A task that finished late reports an earlier time.
	clock.Set(epoch.Add(2 * time.Second))
	assert.False(t, d.Dispatch(ctx, classifier.Falling))
	assert.Equal(t, epoch.Add(10*time.Second), d.LastFall())

	clock.Set(epoch.Add(15 * time.Second))
	assert.True(t, d.Dispatch(ctx, classifier.Falling))
}

func TestDispatch_NonFallNeverAlerts(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDispatcher(rec)

	for _, a := range classifier.DefaultLabels {
		if a == classifier.Falling {
			continue
		}
		assert.False(t, d.Dispatch(context.Background(), a))
	}
	events, alerts := rec.counts()
	assert.Equal(t, len(classifier.DefaultLabels)-1, events)
	assert.Zero(t, alerts)
	assert.True(t, d.LastFall().IsZero())
}

func TestDispatch_ConcurrentFallsAlertOnce(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDispatcher(rec)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), classifier.Falling)
		}()
	}
	wg.Wait()

	events, alerts := rec.counts()
	assert.Equal(t, 50, events)
	assert.Equal(t, 1, alerts)
}

func TestDispatch_AttachesLocation(t *testing.T) {
	rec := &recorder{}
	loc, err := location.NewStatic(52.52, 13.405)
	require.NoError(t, err)
	d := New(Config{Clock: timeutil.NewMockClock(epoch), Alerter: rec, Location: loc})

	require.True(t, d.Dispatch(context.Background(), classifier.Falling))
	require.Len(t, rec.alerts, 1)
	require.NotNil(t, rec.alerts[0].Location)
	assert.Equal(t, 52.52, rec.alerts[0].Location.Latitude)
	assert.Equal(t, epoch, rec.alerts[0].Time)
}

func TestDispatch_NoFixLeavesLocationEmpty(t *testing.T) {
	rec := &recorder{}
	d := New(Config{Clock: timeutil.NewMockClock(epoch), Alerter: rec, Location: &location.Latest{}})

	require.True(t, d.Dispatch(context.Background(), classifier.Falling))
	assert.Nil(t, rec.alerts[0].Location)
}

func TestDispatch_SinkErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &recorder{err: errors.New("sink down")}
	d := New(Config{
		Clock:    timeutil.NewMockClock(epoch),
		Observer: rec,
		Alerter:  rec,
		Logger:   zap.New(core),
	})

	assert.True(t, d.Dispatch(context.Background(), classifier.Falling))
	assert.Equal(t, 1, logs.FilterMessage("activity observer failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("fall alert delivery failed").Len())
}

func TestReset(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDispatcher(rec)

	d.Dispatch(context.Background(), classifier.Falling)
	d.Reset()
	assert.True(t, d.Dispatch(context.Background(), classifier.Falling))
}

func TestNew_Defaults(t *testing.T) {
	d := New(Config{})
	assert.Equal(t, DefaultCooldown, d.cooldown)
	assert.NotNil(t, d.clock)
	assert.False(t, d.Dispatch(context.Background(), classifier.Walking))
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("b failed")}
	m := &Multi{}
	m.Add(a)
	m.Add(b)
	m.Add(struct{}{})

	err := m.ActivityDetected(context.Background(), Event{Activity: classifier.Sitting})
	assert.ErrorContains(t, err, "b failed")
	err = m.NotifyFall(context.Background(), FallAlert{})
	assert.ErrorContains(t, err, "b failed")

	aEvents, aAlerts := a.counts()
	bEvents, bAlerts := b.counts()
	assert.Equal(t, []int{1, 1, 1, 1}, []int{aEvents, aAlerts, bEvents, bAlerts})
}

func TestDispatchEvent_ReturnsObservedEvent(t *testing.T) {
	rec := &recorder{}
	d, clock := newTestDispatcher(rec)
	clock.Advance(90 * time.Second)

	ev, alerted := d.DispatchEvent(context.Background(), classifier.Sitting)
	assert.False(t, alerted)
	assert.Equal(t, epoch.Add(90*time.Second), ev.Time)
	require.Len(t, rec.events, 1)
	assert.Equal(t, rec.events[0], ev)

	ev, alerted = d.DispatchEvent(context.Background(), classifier.Falling)
	assert.True(t, alerted)
	assert.Equal(t, classifier.Falling, ev.Activity)
}
