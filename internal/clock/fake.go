package clock

import (
	"sync"
	"time"
)

// Fake is a manually-driven Clock for tests. It never reads the real
// wall clock after construction.
type Fake struct {
	mu     sync.Mutex
	wall   time.Time
	mono   time.Duration
	loc    *time.Location
	window Window
}

// NewFake creates a Fake clock starting at start (interpreted in loc),
// with the given square-off window.
func NewFake(start time.Time, loc *time.Location, window Window) *Fake {
	return &Fake{wall: start, loc: loc, window: window}
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wall = f.wall.Add(d)
	f.mono += d
}

// Set pins the fake clock to an absolute wall time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wall = t
}

func (f *Fake) NowWall() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wall
}

func (f *Fake) NowMono() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mono
}

func (f *Fake) MarketDayFor(wall time.Time) time.Time {
	t := wall.In(f.loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, f.loc)
}

func (f *Fake) IsSquareOffWindow(wall time.Time) bool {
	t := wall.In(f.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, f.loc)
	offset := t.Sub(midnight)
	return offset >= f.window.Start && offset < f.window.End
}
