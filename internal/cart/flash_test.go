package cart

import (
	"testing"

	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/media"
)

func newTestFlash(t *testing.T, model FlashModel) *Cartridge {
	t.Helper()
	c, err := NewFlash(model, persistence.NewMemoryStorage(model.Capacity))
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func issueFlashCommand(bus media.Bus, cmd byte) {
	bus.Write8(media.FlashPortA, media.FlashPrefix1)
	bus.Write8(media.FlashPortB, media.FlashPrefix2)
	bus.Write8(media.FlashPortA, cmd)
}

func programFlashByte(bus media.Bus, addr uint32, v byte) {
	issueFlashCommand(bus, media.FlashCmdWrite)
	bus.Write8(addr, v)
}

func TestFlashChipIdentification(t *testing.T) {
	c := newTestFlash(t, FlashMacronix64K)

	issueFlashCommand(c, media.FlashCmdReadChipID)
	id := uint16(c.Read8(media.BackupBase+1))<<8 | uint16(c.Read8(media.BackupBase))
	if id != media.ChipMacronix64K {
		t.Fatalf("chip id expected %#04x, actual %#04x", media.ChipMacronix64K, id)
	}

	issueFlashCommand(c, media.FlashCmdReadContents)
	if got := c.Read8(media.BackupBase); got != 0xFF {
		t.Fatalf("after leaving id mode expected erased byte, actual %#02x", got)
	}
}

func TestFlashProgramClearsBits(t *testing.T) {
	c := newTestFlash(t, FlashSST64K)
	addr := media.BackupBase + 0x40

	programFlashByte(c, addr, 0x41)
	if got := c.Read8(addr); got != 0x41 {
		t.Fatalf("programmed byte expected 0x41, actual %#02x", got)
	}

	// Programming again without an erase can only clear bits.
	programFlashByte(c, addr, 0x3E)
	if got := c.Read8(addr); got != 0x41&0x3E {
		t.Fatalf("reprogram expected %#02x, actual %#02x", 0x41&0x3E, got)
	}
}

func TestFlashDataWriteWithoutCommandIsIgnored(t *testing.T) {
	c := newTestFlash(t, FlashSST64K)
	addr := media.BackupBase + 0x80

	c.Write8(addr, 0x12)
	if got := c.Read8(addr); got != 0xFF {
		t.Fatalf("unarmed write expected to be ignored, actual %#02x", got)
	}
}

func TestFlashSectorErase(t *testing.T) {
	c := newTestFlash(t, FlashSST64K)

	// One byte inside the target sector, one in the neighbour.
	programFlashByte(c, media.BackupBase+0x1010, 0x00)
	programFlashByte(c, media.BackupBase+0x2010, 0x00)

	issueFlashCommand(c, media.FlashCmdEraseSectorBegin)
	c.Write8(media.FlashPortA, media.FlashPrefix1)
	c.Write8(media.FlashPortB, media.FlashPrefix2)
	c.Write8(media.BackupBase+0x1000, media.FlashCmdEraseSectorConfirm)

	if got := c.Read8(media.BackupBase + 0x1010); got != 0xFF {
		t.Errorf("erased sector byte expected 0xFF, actual %#02x", got)
	}
	if got := c.Read8(media.BackupBase + 0x2010); got != 0x00 {
		t.Errorf("neighbour sector expected untouched 0x00, actual %#02x", got)
	}
}

func TestFlashChipErase(t *testing.T) {
	c := newTestFlash(t, FlashSST64K)

	programFlashByte(c, media.BackupBase+0x0010, 0x00)
	programFlashByte(c, media.BackupBase+0xF010, 0x00)

	issueFlashCommand(c, media.FlashCmdEraseSectorBegin)
	issueFlashCommand(c, media.FlashCmdEraseChip)

	if got := c.Read8(media.BackupBase + 0x0010); got != 0xFF {
		t.Errorf("chip erase expected 0xFF, actual %#02x", got)
	}
	if got := c.Read8(media.BackupBase + 0xF010); got != 0xFF {
		t.Errorf("chip erase expected 0xFF, actual %#02x", got)
	}
}

func TestFlashChipEraseRequiresArming(t *testing.T) {
	c := newTestFlash(t, FlashSST64K)

	programFlashByte(c, media.BackupBase, 0x00)
	issueFlashCommand(c, media.FlashCmdEraseChip)
	if got := c.Read8(media.BackupBase); got != 0x00 {
		t.Fatalf("unarmed chip erase expected to be ignored, actual %#02x", got)
	}
}

func TestFlashBankSwitching(t *testing.T) {
	c := newTestFlash(t, FlashMacronix128K)
	addr := media.BackupBase + 0x10

	programFlashByte(c, addr, 0x11)

	issueFlashCommand(c, media.FlashCmdSetBank)
	c.Write8(media.FlashPortBank, 1)

	if got := c.Read8(addr); got != 0xFF {
		t.Fatalf("bank 1 expected erased, actual %#02x", got)
	}
	programFlashByte(c, addr, 0x22)

	issueFlashCommand(c, media.FlashCmdSetBank)
	c.Write8(media.FlashPortBank, 0)

	if got := c.Read8(addr); got != 0x11 {
		t.Fatalf("bank 0 expected 0x11, actual %#02x", got)
	}
}

func TestFlashSingleBankChipIgnoresBankBit(t *testing.T) {
	c := newTestFlash(t, FlashSST64K)
	addr := media.BackupBase + 0x10

	programFlashByte(c, addr, 0x11)
	issueFlashCommand(c, media.FlashCmdSetBank)
	c.Write8(media.FlashPortBank, 1)

	if got := c.Read8(addr); got != 0x11 {
		t.Fatalf("64K chip expected to ignore bank select, actual %#02x", got)
	}
}

func TestFlashAtmelPageWrite(t *testing.T) {
	c := newTestFlash(t, FlashAtmel64K)
	base := media.BackupBase + 2*flashPageSize

	issueFlashCommand(c, media.FlashCmdWrite)
	for i := 0; i < flashPageSize; i++ {
		c.Write8(base+uint32(i), byte(i))
	}
	for _, i := range []int{0, 1, 127} {
		if got := c.Read8(base + uint32(i)); got != byte(i) {
			t.Fatalf("page byte %d expected %#02x, actual %#02x", i, byte(i), got)
		}
	}

	// Page programming replaces the page outright, so bits can be set
	// again without a separate erase.
	issueFlashCommand(c, media.FlashCmdWrite)
	for i := 0; i < flashPageSize; i++ {
		c.Write8(base+uint32(i), 0xFF)
	}
	if got := c.Read8(base); got != 0xFF {
		t.Fatalf("rewritten page expected 0xFF, actual %#02x", got)
	}
}

func TestFlashStalledOperations(t *testing.T) {
	c := newTestFlash(t, FlashSST64K)
	addr := media.BackupBase + 0x1010

	c.StallWrites(1)
	programFlashByte(c, addr, 0x00)
	if got := c.Read8(addr); got != 0xFF {
		t.Fatalf("stalled program expected no effect, actual %#02x", got)
	}

	programFlashByte(c, addr, 0x00)
	c.StallErases(1)
	issueFlashCommand(c, media.FlashCmdEraseSectorBegin)
	c.Write8(media.FlashPortA, media.FlashPrefix1)
	c.Write8(media.FlashPortB, media.FlashPrefix2)
	c.Write8(media.BackupBase+0x1000, media.FlashCmdEraseSectorConfirm)
	if got := c.Read8(addr); got != 0x00 {
		t.Fatalf("stalled erase expected no effect, actual %#02x", got)
	}
}

func TestLookupFlashModel(t *testing.T) {
	tests := []struct {
		name      string
		chip      string
		mediaType media.MediaType
		want      uint16
		wantErr   bool
	}{
		{"default 64k", "", media.Flash64K, media.ChipSST64K, false},
		{"default 128k", "", media.Flash128K, media.ChipMacronix128K, false},
		{"atmel", "atmel", media.Flash64K, media.ChipAtmel64K, false},
		{"sanyo", "sanyo", media.Flash128K, media.ChipSanyo128K, false},
		{"capacity mismatch", "sanyo", media.Flash64K, 0, true},
		{"unknown", "intel", media.Flash64K, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := LookupFlashModel(tt.chip, tt.mediaType)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LookupFlashModel: %v", err)
			}
			if m.ID != tt.want {
				t.Fatalf("chip id expected %#04x, actual %#04x", tt.want, m.ID)
			}
		})
	}
}
