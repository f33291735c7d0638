// Package alert holds the delivery sinks for activity events and fall alerts.
package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/dispatch"
	"github.com/banshee-data/activity.report/internal/monitoring"
)

// LogSink writes activities at debug level and falls at warn level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: monitoring.OrNop(logger)}
}

// ActivityDetected implements dispatch.Observer.
func (s *LogSink) ActivityDetected(_ context.Context, ev dispatch.Event) error {
	s.logger.Debug("activity detected",
		zap.String("activity", ev.Activity.String()),
		zap.Stringer("event_id", ev.ID),
		zap.Time("time", ev.Time))
	return nil
}

// NotifyFall implements dispatch.Alerter.
func (s *LogSink) NotifyFall(_ context.Context, a dispatch.FallAlert) error {
	fields := []zap.Field{zap.Stringer("alert_id", a.ID), zap.Time("time", a.Time)}
	if a.Location != nil {
		fields = append(fields, zap.Float64("latitude", a.Location.Latitude), zap.Float64("longitude", a.Location.Longitude))
	}
	s.logger.Warn("FALL DETECTED", fields...)
	return nil
}
