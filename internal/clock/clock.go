// Package clock isolates every time-dependent decision in the server
// behind one small interface, so tests can drive market-day and
// square-off-window logic deterministically instead of sleeping.
package clock

import (
	"time"
)

// Clock provides wall time, a monotonic reference, and the two
// market-calendar questions the rest of the server needs answered:
// "what calendar day is this for pivot purposes" and "are we inside
// the auto-square-off window".
type Clock interface {
	NowWall() time.Time
	NowMono() time.Duration
	MarketDayFor(wall time.Time) time.Time
	IsSquareOffWindow(wall time.Time) bool
}

// Window is a half-open [Start, End) time-of-day range in the
// market's local timezone: Start is included, End is not.
type Window struct {
	Start time.Duration // offset from midnight
	End   time.Duration
}

// Real is the production Clock, backed by time.Now and a configured
// market timezone/square-off window.
type Real struct {
	loc       *time.Location
	window    Window
	processAt time.Time
}

// NewReal builds a Real clock for the given IANA timezone name and
// square-off window (e.g. "15:20", "15:30").
func NewReal(tzName string, start, end string) (*Real, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, err
	}
	w, err := parseWindow(start, end)
	if err != nil {
		return nil, err
	}
	return &Real{loc: loc, window: w, processAt: time.Now()}, nil
}

func parseWindow(start, end string) (Window, error) {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return Window{}, err
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return Window{}, err
	}
	dayStart := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: s.Sub(dayStart), End: e.Sub(dayStart)}, nil
}

func (r *Real) NowWall() time.Time { return time.Now().In(r.loc) }

func (r *Real) NowMono() time.Duration { return time.Since(r.processAt) }

// MarketDayFor truncates wall (converted to the market timezone) to
// the calendar date boundary.
func (r *Real) MarketDayFor(wall time.Time) time.Time {
	t := wall.In(r.loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

// IsSquareOffWindow reports whether wall falls within [window.Start,
// window.End) of the market day, inclusive of the start boundary and
// exclusive of the end — matching spec.md §8's "square-off at exactly
// the window boundary closes trades" boundary case.
func (r *Real) IsSquareOffWindow(wall time.Time) bool {
	t := wall.In(r.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
	offset := t.Sub(midnight)
	return offset >= r.window.Start && offset < r.window.End
}
