package flash

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/cartsave/internal/cart"
	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/media"
)

// fakeTimer reports a fixed tick count, letting tests force poll
// budgets to be met (or never met) without waiting.
type fakeTimer struct {
	ticks uint16
}

func (t *fakeTimer) SetEnabled(enabled bool)    {}
func (t *fakeTimer) SetDivider(d media.Divider) {}
func (t *fakeTimer) SetOverflow(ticks uint16)   {}
func (t *fakeTimer) Value() uint16              { return t.ticks }

func expiredTimeout() *media.Timeout {
	t := media.NewTimeout(&fakeTimer{ticks: 0xFFFF})
	return &t
}

// recordingBus traces writes so tests can assert on issued commands.
type recordingBus struct {
	media.Bus
	writes []busWrite
}

type busWrite struct {
	addr uint32
	v    byte
}

func (b *recordingBus) Write8(addr uint32, v byte) {
	b.writes = append(b.writes, busWrite{addr, v})
	b.Bus.Write8(addr, v)
}

func newTestFlash(t *testing.T, model cart.FlashModel) (*Driver, *cart.Cartridge) {
	t.Helper()
	c, err := cart.NewFlash(model, persistence.NewMemoryStorage(model.Capacity))
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return New(c), c
}

func TestDetectKnownChips(t *testing.T) {
	tests := []struct {
		model     cart.FlashModel
		name      string
		mediaType media.MediaType
		length    int
		sector    int
	}{
		{cart.FlashSST64K, "SST 64K", media.Flash64K, 64 * 1024, 4096},
		{cart.FlashMacronix64K, "Macronix 64K", media.Flash64K, 64 * 1024, 4096},
		{cart.FlashPanasonic64K, "Panasonic 64K", media.Flash64K, 64 * 1024, 4096},
		{cart.FlashAtmel64K, "Atmel 64K", media.Flash64K, 64 * 1024, 128},
		{cart.FlashSanyo128K, "Sanyo 128K", media.Flash128K, 128 * 1024, 4096},
		{cart.FlashMacronix128K, "Macronix 128K", media.Flash128K, 128 * 1024, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestFlash(t, tt.model)
			chip := d.Chip()
			if chip.Name != tt.name {
				t.Errorf("chip name expected %q, actual %q", tt.name, chip.Name)
			}
			info, err := d.Info()
			if err != nil {
				t.Fatalf("Info: %v", err)
			}
			if info.MediaType != tt.mediaType || info.Len() != tt.length || info.SectorSize() != tt.sector {
				t.Errorf("unexpected info %+v", info)
			}
		})
	}
}

func TestDetectUnknownChipFallsBack(t *testing.T) {
	model := cart.FlashModel{Name: "mystery", ID: 0x1234, Capacity: 64 * 1024}
	d, _ := newTestFlash(t, model)

	chip := d.Chip()
	if chip.Name != "unknown" {
		t.Errorf("chip name expected unknown, actual %q", chip.Name)
	}
	if !chip.RequiresCancel {
		t.Error("generic profile expected to require the cancel command")
	}
	if chip.Info.Len() != 64*1024 {
		t.Errorf("generic profile length expected 64K, actual %v", chip.Info.Len())
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	d, _ := newTestFlash(t, cart.FlashSST64K)
	data := []byte("solid state forever")

	if err := d.PrepareWrite(0x1000, len(data), nil); err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}
	if err := d.Write(0x1000, data, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len(data))
	if err := d.Read(0x1000, buf, nil); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Fatalf("read back expected %q, actual %q", data, buf)
	}

	ok, err := d.Verify(0x1000, data, nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("verify expected to match")
	}
}

func TestPrepareWriteErasesOnlyCoveredSectors(t *testing.T) {
	d, _ := newTestFlash(t, cart.FlashSST64K)

	if err := d.Write(0x0FFF, []byte{0x11}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := d.Write(0x2000, []byte{0x22}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Range spans sectors 1 and 2 only.
	if err := d.PrepareWrite(0x1800, 0x1000, nil); err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}

	buf := make([]byte, 1)
	if err := d.Read(0x0FFF, buf, nil); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 0x11 {
		t.Errorf("sector 0 expected untouched 0x11, actual %#02x", buf[0])
	}
	if err := d.Read(0x2000, buf, nil); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 0xFF {
		t.Errorf("sector 2 expected erased 0xFF, actual %#02x", buf[0])
	}
}

func TestPrepareWholeChipIssuesChipErase(t *testing.T) {
	c, err := cart.NewFlash(cart.FlashSST64K, persistence.NewMemoryStorage(64*1024))
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	defer c.Close()
	bus := &recordingBus{Bus: c}
	d := New(bus)

	if err := d.Write(0, []byte{0x00}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	bus.writes = nil
	if err := d.PrepareWrite(0, 64*1024, nil); err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}

	sawChipErase := false
	for _, w := range bus.writes {
		if w.addr == media.FlashPortA && w.v == media.FlashCmdEraseChip {
			sawChipErase = true
		}
		if w.v == media.FlashCmdEraseSectorConfirm && w.addr != media.FlashPortA && w.addr != media.FlashPortB {
			t.Fatal("whole-chip prepare expected no per-sector erase")
		}
	}
	if !sawChipErase {
		t.Fatal("whole-chip prepare expected the chip erase command")
	}

	buf := make([]byte, 1)
	if err := d.Read(0, buf, nil); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 0xFF {
		t.Fatalf("chip expected erased, actual %#02x", buf[0])
	}
}

func TestBankedRoundTrip(t *testing.T) {
	d, _ := newTestFlash(t, cart.FlashMacronix128K)
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(0xA0 + i)
	}

	// Crosses the 64 KiB bank boundary.
	offset := 64*1024 - 8
	if err := d.PrepareWrite(offset, len(data), nil); err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}
	if err := d.Write(offset, data, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len(data))
	if err := d.Read(offset, buf, nil); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Fatalf("read back expected % x, actual % x", data, buf)
	}
}

func TestAtmelUnalignedWrite(t *testing.T) {
	d, _ := newTestFlash(t, cart.FlashAtmel64K)

	seed := []byte{0x01, 0x02, 0x03}
	if err := d.Write(0, seed, nil); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}
	if err := d.Write(5, data, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Bytes before the write survive the page read-modify-write.
	buf := make([]byte, 3)
	if err := d.Read(0, buf, nil); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf, seed) {
		t.Fatalf("page head expected % x, actual % x", seed, buf)
	}

	got := make([]byte, len(data))
	if err := d.Read(5, got, nil); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("unaligned write did not round trip")
	}
}

func TestWriteTimeoutOnStalledChip(t *testing.T) {
	d, c := newTestFlash(t, cart.FlashSST64K)

	c.StallWrites(1)
	err := d.Write(0, []byte{0x00}, expiredTimeout())
	if !errors.Is(err, media.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, actual %v", err)
	}
}

func TestEraseTimeoutOnStalledChip(t *testing.T) {
	d, c := newTestFlash(t, cart.FlashSST64K)

	if err := d.Write(0x1000, []byte{0x00}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c.StallErases(1)
	err := d.PrepareWrite(0x1000, 1, expiredTimeout())
	if !errors.Is(err, media.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, actual %v", err)
	}
}

func TestMacronixCancelAfterTimeout(t *testing.T) {
	c, err := cart.NewFlash(cart.FlashMacronix64K, persistence.NewMemoryStorage(64*1024))
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	defer c.Close()
	bus := &recordingBus{Bus: c}
	d := New(bus)

	c.StallWrites(1)
	if err := d.Write(0, []byte{0x00}, expiredTimeout()); !errors.Is(err, media.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, actual %v", err)
	}

	last := bus.writes[len(bus.writes)-1]
	if last.addr != media.FlashPortA || last.v != media.FlashCmdReadContents {
		t.Fatalf("expected trailing cancel command, actual write %#08x=%#02x", last.addr, last.v)
	}
}

func TestOutOfBoundsTouchesNoHardware(t *testing.T) {
	c, err := cart.NewFlash(cart.FlashSST64K, persistence.NewMemoryStorage(64*1024))
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	defer c.Close()
	bus := &recordingBus{Bus: c}
	d := New(bus)

	// Force detection first; bounds checks need the chip geometry.
	if _, err := d.Info(); err != nil {
		t.Fatalf("Info: %v", err)
	}
	bus.writes = nil

	if err := d.Write(64*1024-1, []byte{1, 2}, nil); !errors.Is(err, media.ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, actual %v", err)
	}
	if err := d.PrepareWrite(-1, 4, nil); !errors.Is(err, media.ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, actual %v", err)
	}
	if len(bus.writes) != 0 {
		t.Fatalf("out of bounds access expected no bus writes, actual %d", len(bus.writes))
	}
}
