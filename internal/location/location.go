// Package location supplies the position attached to fall alerts.
package location

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Fix is a position in WGS84 degrees.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Time      time.Time `json:"time"`
	Source    string    `json:"source,omitempty"`
}

// Valid reports whether f holds plausible coordinates.
func (f Fix) Valid() bool {
	return !math.IsNaN(f.Latitude) && !math.IsNaN(f.Longitude) &&
		f.Latitude >= -90 && f.Latitude <= 90 &&
		f.Longitude >= -180 && f.Longitude <= 180
}

func (f Fix) String() string {
	return fmt.Sprintf("%.6f,%.6f", f.Latitude, f.Longitude)
}

// Provider reports the most recent position, if any.
type Provider interface {
	Location() (Fix, bool)
}

// Static always reports the same position.
type Static struct {
	fix Fix
}

// NewStatic returns a Static provider for the given coordinates.
func NewStatic(lat, lon float64) (*Static, error) {
	f := Fix{Latitude: lat, Longitude: lon, Source: "static"}
	if !f.Valid() {
		return nil, fmt.Errorf("invalid coordinates %v,%v", lat, lon)
	}
	return &Static{fix: f}, nil
}

// Location implements Provider.
func (s *Static) Location() (Fix, bool) { return s.fix, true }

// Latest holds the last fix written to it. It is safe for concurrent use.
type Latest struct {
	mu  sync.RWMutex
	fix Fix
	ok  bool
}

// Set records f as the latest fix.
func (l *Latest) Set(f Fix) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fix = f
	l.ok = true
}

// Location implements Provider.
func (l *Latest) Location() (Fix, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fix, l.ok
}
