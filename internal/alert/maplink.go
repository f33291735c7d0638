package alert

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strconv"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/dispatch"
	"github.com/banshee-data/activity.report/internal/monitoring"
)

// DefaultMapBaseURL is the map search endpoint fall locations are linked to.
const DefaultMapBaseURL = "https://www.openstreetmap.org/"

// Opener presents a URL to the person monitoring the wearer.
type Opener interface {
	Open(ctx context.Context, link string) error
}

// LogOpener logs the link instead of opening it.
type LogOpener struct {
	Logger *zap.Logger
}

// Open implements Opener.
func (o LogOpener) Open(_ context.Context, link string) error {
	monitoring.OrNop(o.Logger).Warn("fall location", zap.String("url", link))
	return nil
}

// ExecOpener hands the link to the desktop URL handler.
type ExecOpener struct{}

// Open implements Opener.
func (ExecOpener) Open(ctx context.Context, link string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", link)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", link)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", link)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", link, err)
	}
	go cmd.Wait() //nolint:errcheck
	return nil
}

// MapLinkSink turns fall alerts with a location into a map link.
type MapLinkSink struct {
	baseURL string
	opener  Opener
}

// NewMapLinkSink creates a sink. An empty baseURL selects DefaultMapBaseURL
// and a nil opener logs links.
func NewMapLinkSink(baseURL string, opener Opener) (*MapLinkSink, error) {
	if baseURL == "" {
		baseURL = DefaultMapBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid map base URL: %w", err)
	}
	if opener == nil {
		opener = LogOpener{}
	}
	return &MapLinkSink{baseURL: baseURL, opener: opener}, nil
}

// Link returns the map URL centred on lat, lon.
func (s *MapLinkSink) Link(lat, lon float64) string {
	u, _ := url.Parse(s.baseURL)
	q := u.Query()
	q.Set("mlat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("mlon", strconv.FormatFloat(lon, 'f', 6, 64))
	u.RawQuery = q.Encode()
	u.Fragment = fmt.Sprintf("map=18/%.6f/%.6f", lat, lon)
	return u.String()
}

// NotifyFall implements dispatch.Alerter. Alerts without a location are
// skipped.
func (s *MapLinkSink) NotifyFall(ctx context.Context, a dispatch.FallAlert) error {
	if a.Location == nil {
		return nil
	}
	return s.opener.Open(ctx, s.Link(a.Location.Latitude, a.Location.Longitude))
}
