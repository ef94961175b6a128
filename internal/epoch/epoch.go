// Package epoch converts between wall-clock time and the integer epochs
// used by replay tables. Each table declares an epoch unit (seconds,
// milliseconds, microseconds, or whole days) and a timezone; all wire
// timestamps for a connection are expressed in the unit of the table the
// connection negotiated at init.
package epoch

import (
	"fmt"
	"time"
)

// Unit is the resolution of an integer epoch value.
type Unit string

const (
	Seconds Unit = "s"
	Millis  Unit = "ms"
	Micros  Unit = "us"
	Days    Unit = "day"
)

// ParseUnit validates and returns a Unit from its config string form.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case Seconds, Millis, Micros, Days:
		return Unit(s), nil
	}
	return "", fmt.Errorf("unknown epoch unit %q", s)
}

const dayMicros = 24 * 60 * 60 * 1_000_000

// micros returns one epoch step of the unit expressed in microseconds.
func (u Unit) micros() int64 {
	switch u {
	case Seconds:
		return 1_000_000
	case Millis:
		return 1_000
	case Micros:
		return 1
	case Days:
		return dayMicros
	}
	return 1_000
}

// Converter translates between time.Time and integer epochs in a fixed
// unit and location. The zero Converter is not usable; build one with New.
type Converter struct {
	unit Unit
	loc  *time.Location
}

// New returns a Converter for the given unit and IANA timezone name.
// An empty timezone means UTC.
func New(unit Unit, tz string) (Converter, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return Converter{}, fmt.Errorf("load timezone %q: %w", tz, err)
		}
	}
	return Converter{unit: unit, loc: loc}, nil
}

// MustNew is New for static configuration known to be valid (tests, defaults).
func MustNew(unit Unit, tz string) Converter {
	c, err := New(unit, tz)
	if err != nil {
		panic(err)
	}
	return c
}

// Unit returns the converter's epoch unit.
func (c Converter) Unit() Unit { return c.unit }

// Location returns the converter's timezone.
func (c Converter) Location() *time.Location { return c.loc }

// ToTime converts an integer epoch in the converter's unit to an absolute
// time in the converter's location.
func (c Converter) ToTime(v int64) time.Time {
	return time.UnixMicro(v * c.unit.micros()).In(c.loc)
}

// FromTime converts an absolute time to an integer epoch in the
// converter's unit, truncating toward negative infinity.
func (c Converter) FromTime(t time.Time) int64 {
	us := t.UnixMicro()
	step := c.unit.micros()
	if us >= 0 {
		return us / step
	}
	return (us - step + 1) / step
}

// DayIndex returns the number of whole local days since the Unix epoch
// for t in the converter's location. Consecutive batches with differing
// day indices mark an end-of-day rollover.
func (c Converter) DayIndex(t time.Time) int {
	lt := t.In(c.loc)
	y, m, d := lt.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, c.loc)
	return int(midnight.Unix() / 86400)
}
