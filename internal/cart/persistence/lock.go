// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockImageFile takes an exclusive advisory lock on an open image file
// without blocking. Two processes mutating the same chip image would
// interleave OnWrite flushes, so the second opener is turned away.
func lockImageFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("image file %s locked by another process: %w", f.Name(), err)
	}
	return nil
}

func unlockImageFile(f *os.File) {
	// Released implicitly on close as well; explicit for clarity.
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
