// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cart

import (
	"time"

	"github.com/ffutop/cartsave/media"
)

// HostTimer adapts the host monotonic clock to media.Timer. Value
// counts ticks at the configured divider rate since the timer was last
// enabled and saturates at the 16-bit ceiling the way the hardware
// counter tops out.
type HostTimer struct {
	start    time.Time
	enabled  bool
	divider  media.Divider
	overflow uint16
}

func NewHostTimer() *HostTimer {
	return &HostTimer{divider: media.Divider1}
}

func (t *HostTimer) SetEnabled(enabled bool) {
	if enabled && !t.enabled {
		t.start = time.Now()
	}
	t.enabled = enabled
}

func (t *HostTimer) SetDivider(d media.Divider) {
	t.divider = d
}

func (t *HostTimer) SetOverflow(ticks uint16) {
	t.overflow = ticks
}

func (t *HostTimer) Value() uint16 {
	if !t.enabled {
		return 0
	}
	ticks := time.Since(t.start) * time.Duration(t.divider.TicksPerSecond()) / time.Second
	if ticks > 0xFFFF {
		return 0xFFFF
	}
	return uint16(ticks)
}
