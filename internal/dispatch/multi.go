package dispatch

import (
	"context"
	"errors"
)

// Multi fans events out to several sinks. Every sink is called even when an
// earlier one fails; the failures are joined.
type Multi struct {
	Observers []Observer
	Alerters  []Alerter
}

// ActivityDetected implements Observer.
func (m *Multi) ActivityDetected(ctx context.Context, ev Event) error {
	var errs []error
	for _, o := range m.Observers {
		if err := o.ActivityDetected(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyFall implements Alerter.
func (m *Multi) NotifyFall(ctx context.Context, alert FallAlert) error {
	var errs []error
	for _, a := range m.Alerters {
		if err := a.NotifyFall(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add registers s with every role it implements.
func (m *Multi) Add(s any) {
	if o, ok := s.(Observer); ok {
		m.Observers = append(m.Observers, o)
	}
	if a, ok := s.(Alerter); ok {
		m.Alerters = append(m.Alerters, a)
	}
}
