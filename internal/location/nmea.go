package location

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/serialport"
	"github.com/banshee-data/activity.report/internal/timeutil"
)

// ErrNoFix is returned by Feed for sentences that report no usable position.
var ErrNoFix = errors.New("sentence has no fix")

// NMEATracker follows a GPS receiver's NMEA stream and reports the latest
// valid RMC or GGA position. Fixes older than MaxAge are not reported.
type NMEATracker struct {
	MaxAge time.Duration

	latest Latest
	clock  timeutil.Clock
	logger *zap.Logger
}

// NewNMEATracker creates a tracker. A nil clock uses wall time.
func NewNMEATracker(maxAge time.Duration, clock timeutil.Clock, logger *zap.Logger) *NMEATracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &NMEATracker{MaxAge: maxAge, clock: clock, logger: monitoring.OrNop(logger)}
}

// Feed parses one sentence and records its position. Sentence types other
// than RMC and GGA are ignored.
func (t *NMEATracker) Feed(line string) error {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nil
	}
	s, err := nmea.Parse(line)
	if err != nil {
		return fmt.Errorf("parse NMEA: %w", err)
	}

	var fix Fix
	switch m := s.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return ErrNoFix
		}
		fix = Fix{Latitude: m.Latitude, Longitude: m.Longitude, Source: "rmc"}
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return ErrNoFix
		}
		fix = Fix{Latitude: m.Latitude, Longitude: m.Longitude, Source: "gga"}
	default:
		return nil
	}
	if !fix.Valid() {
		return ErrNoFix
	}
	fix.Time = t.clock.Now()
	t.latest.Set(fix)
	return nil
}

// Location implements Provider.
func (t *NMEATracker) Location() (Fix, bool) {
	fix, ok := t.latest.Location()
	if !ok {
		return Fix{}, false
	}
	if t.MaxAge > 0 && t.clock.Since(fix.Time) > t.MaxAge {
		return Fix{}, false
	}
	return fix, true
}

// Run feeds every line read from port until it ends or ctx is cancelled.
func (t *NMEATracker) Run(ctx context.Context, port serialport.Port) error {
	var parseErrors int
	err := serialport.ScanLines(ctx, port, func(line string) {
		if err := t.Feed(line); err != nil && !errors.Is(err, ErrNoFix) {
			parseErrors++
			t.logger.Debug("ignoring NMEA sentence", zap.String("line", line), zap.Error(err))
		}
	})
	t.logger.Info("GPS reader stopped", zap.Int("parse_errors", parseErrors))
	return err
}
