// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package media

// Divider selects the prescaler of a hardware timer. The system clock
// runs at 2^24 Hz; the divider scales it down to the tick rate.
type Divider int

const (
	Divider1 Divider = iota
	Divider64
	Divider256
	Divider1024
)

// TicksPerSecond returns the tick rate of a timer at this divider.
func (d Divider) TicksPerSecond() int {
	switch d {
	case Divider64:
		return (1 << 24) / 64
	case Divider256:
		return (1 << 24) / 256
	case Divider1024:
		return (1 << 24) / 1024
	default:
		return 1 << 24
	}
}

// Timer is the 16-bit hardware timer consumed by Timeout. The timer
// subsystem supplies an implementation; hosts without real timer
// registers back one with the wall clock.
type Timer interface {
	SetEnabled(enabled bool)
	SetDivider(d Divider)
	SetOverflow(ticks uint16)
	Value() uint16
}

// Timeout bounds busy-wait polls against save hardware so a missing or
// defective chip cannot hang execution. It wraps an optional Timer: with
// no timer every poll is unbounded and the caller accepts that risk. All
// methods are safe on a nil *Timeout, which behaves like the no-timer
// case.
//
// The life cycle is Start, any number of Met checks, Stop. Stop must run
// on every exit path so a later, unrelated user of the same timer does
// not inherit a stale configuration; callers defer it.
type Timeout struct {
	timer Timer
}

// NewTimeout wraps timer, which may be nil.
func NewTimeout(timer Timer) Timeout {
	return Timeout{timer: timer}
}

// Start arms the timer for one logical operation: counting restarts
// from zero at divider 1024.
func (t *Timeout) Start() {
	if t == nil || t.timer == nil {
		return
	}
	t.timer.SetEnabled(false)
	t.timer.SetDivider(Divider1024)
	t.timer.SetOverflow(0xFFFF)
	t.timer.SetEnabled(true)
}

// Met reports whether more than ms milliseconds have elapsed since
// Start. It is a pure comparison with no side effects, callable on
// every iteration of a poll loop. At divider 1024 the timer advances
// about 16.4 ticks per millisecond; the factor 17 rounds up so the
// bound is never reported early.
func (t *Timeout) Met(ms uint32) bool {
	if t == nil || t.timer == nil {
		return false
	}
	return ms*17 < uint32(t.timer.Value())
}

// Stop disables the timer. Safe on a Timeout that was never started
// and on one with no timer.
func (t *Timeout) Stop() {
	if t != nil && t.timer != nil {
		t.timer.SetEnabled(false)
	}
}
