// Package timezone resolves IANA zone identifiers and projects instants into
// local calendar and wall-clock fields. Resolution never fails: unknown
// input degrades to the configured default zone.
package timezone

import (
	"fmt"
	"strings"
	"sync"
	"time"

	// Embedded zone database so lookups behave the same on minimal images.
	_ "time/tzdata"
)

// DefaultZone is the fallback zone when none is configured.
const DefaultZone = "Africa/Harare"

// Parts are the local calendar and clock fields of an instant in a zone.
type Parts struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
}

// Date formats the calendar fields as YYYY-MM-DD.
func (p Parts) Date() string {
	return fmt.Sprintf("%04d-%02d-%02d", p.Year, int(p.Month), p.Day)
}

// Clock formats the wall-clock fields as HH:MM.
func (p Parts) Clock() string {
	return fmt.Sprintf("%02d:%02d", p.Hour, p.Minute)
}

// MinuteOfDay returns minutes since local midnight.
func (p Parts) MinuteOfDay() int {
	return p.Hour*60 + p.Minute
}

// Resolver validates zone identifiers against the tz database and caches
// loaded locations. It is safe for concurrent use.
type Resolver struct {
	fallback    string
	fallbackLoc *time.Location
	cache       sync.Map // zone id -> *time.Location, or nil for invalid ids
}

// NewResolver creates a Resolver whose fallback is defaultZone. If
// defaultZone itself is not a valid IANA zone, DefaultZone is used, and
// UTC as a last resort.
func NewResolver(defaultZone string) *Resolver {
	r := &Resolver{}
	for _, candidate := range []string{defaultZone, DefaultZone} {
		if loc, ok := load(candidate); ok {
			r.fallback, r.fallbackLoc = candidate, loc
			return r
		}
	}
	r.fallback, r.fallbackLoc = "UTC", time.UTC
	return r
}

// Default returns the fallback zone id.
func (r *Resolver) Default() string {
	return r.fallback
}

// Resolve returns input if it names a known IANA zone, otherwise the
// fallback zone.
func (r *Resolver) Resolve(input string) string {
	if _, ok := r.lookup(input); ok {
		return strings.TrimSpace(input)
	}
	return r.fallback
}

// Location returns the *time.Location for Resolve(input).
func (r *Resolver) Location(input string) *time.Location {
	if loc, ok := r.lookup(input); ok {
		return loc
	}
	return r.fallbackLoc
}

// ZonedParts projects instant into zone's local fields.
func (r *Resolver) ZonedParts(instant time.Time, zone string) Parts {
	local := instant.In(r.Location(zone))
	return Parts{
		Year:   local.Year(),
		Month:  local.Month(),
		Day:    local.Day(),
		Hour:   local.Hour(),
		Minute: local.Minute(),
	}
}

// LocalDate returns instant's calendar date in zone as YYYY-MM-DD.
func (r *Resolver) LocalDate(instant time.Time, zone string) string {
	return r.ZonedParts(instant, zone).Date()
}

// LocalTime returns instant's wall-clock time in zone as HH:MM.
func (r *Resolver) LocalTime(instant time.Time, zone string) string {
	return r.ZonedParts(instant, zone).Clock()
}

func (r *Resolver) lookup(input string) (*time.Location, bool) {
	id := strings.TrimSpace(input)
	if id == "" {
		return nil, false
	}
	if cached, ok := r.cache.Load(id); ok {
		loc, _ := cached.(*time.Location)
		return loc, loc != nil
	}
	loc, ok := load(id)
	if ok {
		r.cache.Store(id, loc)
	} else {
		r.cache.Store(id, (*time.Location)(nil))
	}
	return loc, ok
}

// load wraps time.LoadLocation, rejecting the identifiers it accepts that
// are not IANA zones ("" and "Local").
func load(id string) (*time.Location, bool) {
	if id == "" || id == "Local" {
		return nil, false
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, false
	}
	return loc, true
}
