// Package civiltime converts absolute instants into the civil time of a configured zone.
package civiltime

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // zone rules must not depend on the host's zoneinfo

	apperrors "github.com/theravoice/theravoice/internal/errors"
)

// DefaultZone is the zone appointment times are shown in when nothing else is configured
const DefaultZone = "America/Los_Angeles"

// Layout renders instants the way the API reports them: numeric offset (never "Z") and
// fractional seconds only when non-zero, e.g. 2030-01-01T12:00:00-08:00.
const Layout = "2006-01-02T15:04:05.999999-07:00"

// LoadZone resolves an IANA zone name
func LoadZone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("zone name is empty")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown zone %q: %w", name, err)
	}
	return loc, nil
}

// Normalizer converts instants into a fixed civil zone and compares them with the current time
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// NewNormalizer creates a normalizer for the named zone
func NewNormalizer(zone string) (*Normalizer, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return nil, err
	}
	return &Normalizer{loc: loc, now: time.Now}, nil
}

// WithClock returns a copy of the normalizer that samples "now" from clock
func (n *Normalizer) WithClock(clock func() time.Time) *Normalizer {
	return &Normalizer{loc: n.loc, now: clock}
}

// Location returns the target zone
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Parse reads an ISO-8601 timestamp that carries an explicit offset or a Z suffix.
// A space may separate date and time, and T and Z may be lowercase.
// Naive timestamps are rejected rather than assumed to be UTC.
func (n *Normalizer) Parse(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperrors.NewValidationError(field, "timestamp is required")
	}

	value = canonicalISO(value)
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		if _, naiveErr := time.Parse("2006-01-02T15:04:05", value); naiveErr == nil {
			return time.Time{}, apperrors.NewValidationError(field,
				"timestamp %q has no UTC offset; use Z or ±HH:MM", value)
		}
		return time.Time{}, apperrors.NewValidationError(field, "invalid ISO-8601 timestamp %q", value)
	}
	return t, nil
}

// canonicalISO rewrites the ISO-8601 variants RFC 3339 parsing does not accept
func canonicalISO(value string) string {
	if len(value) <= len("2006-01-02") {
		return value
	}
	b := []byte(value)
	if sep := b[10]; sep == ' ' || sep == 't' {
		b[10] = 'T'
	}
	if b[len(b)-1] == 'z' {
		b[len(b)-1] = 'Z'
	}
	return string(b)
}

// Normalize converts an absolute instant into the target zone. The instant is unchanged.
func (n *Normalizer) Normalize(t time.Time) time.Time {
	return t.In(n.loc)
}

// Now returns the current instant in the target zone
func (n *Normalizer) Now() time.Time {
	return n.now().In(n.loc)
}

// IsFuture reports whether t is strictly later than the current instant
func (n *Normalizer) IsFuture(t time.Time) bool {
	return t.After(n.Now())
}

// Format renders t with Layout
func Format(t time.Time) string {
	return t.Format(Layout)
}

// UTC renders t in UTC with Layout, so the offset prints as +00:00
func UTC(t time.Time) string {
	return t.UTC().Format(Layout)
}
