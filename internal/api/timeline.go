package api

import (
	"context"
	"sync"

	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/dispatch"
)

// DefaultTimelineSize is the number of recent activities kept for charts.
const DefaultTimelineSize = 600

// Timeline keeps the most recent activities and fall alerts in memory for
// the debug charts. It implements dispatch.Observer and dispatch.Alerter.
type Timeline struct {
	labels []classifier.Activity

	mu     sync.Mutex
	events []dispatch.Event // ring, oldest at start
	start  int
	size   int
	falls  int
}

// NewTimeline keeps up to capacity events. Nil labels select the default
// class order used on the chart axis.
func NewTimeline(capacity int, labels []classifier.Activity) *Timeline {
	if capacity <= 0 {
		capacity = DefaultTimelineSize
	}
	if labels == nil {
		labels = classifier.DefaultLabels
	}
	return &Timeline{
		labels: labels,
		events: make([]dispatch.Event, capacity),
	}
}

// ActivityDetected implements dispatch.Observer.
func (t *Timeline) ActivityDetected(_ context.Context, ev dispatch.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size < len(t.events) {
		t.events[(t.start+t.size)%len(t.events)] = ev
		t.size++
		return nil
	}
	t.events[t.start] = ev
	t.start = (t.start + 1) % len(t.events)
	return nil
}

// NotifyFall implements dispatch.Alerter.
func (t *Timeline) NotifyFall(_ context.Context, _ dispatch.FallAlert) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.falls++
	return nil
}

// Events returns the retained events, oldest first.
func (t *Timeline) Events() []dispatch.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]dispatch.Event, t.size)
	for i := range out {
		out[i] = t.events[(t.start+i)%len(t.events)]
	}
	return out
}

// Falls returns the number of fall alerts raised since start.
func (t *Timeline) Falls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.falls
}

// Labels returns the class order used on the chart axis.
func (t *Timeline) Labels() []classifier.Activity { return t.labels }
