package cart

import (
	"testing"

	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/media"
)

func TestOpenMountsEveryMediaType(t *testing.T) {
	tests := []struct {
		mediaType media.MediaType
		chip      string
	}{
		{media.Sram, ""},
		{media.Flash64K, ""},
		{media.Flash64K, "atmel"},
		{media.Flash128K, ""},
		{media.Eeprom512B, ""},
		{media.Eeprom8K, ""},
	}

	for _, tt := range tests {
		t.Run(tt.mediaType.String()+"/"+tt.chip, func(t *testing.T) {
			store := persistence.NewMemoryStorage(tt.mediaType.Capacity())
			c, err := Open(tt.mediaType, tt.chip, store)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer c.Close()
			if c.Media() != tt.mediaType {
				t.Errorf("media type expected %v, actual %v", tt.mediaType, c.Media())
			}
		})
	}
}

func TestOpenRejectsChipCapacityMismatch(t *testing.T) {
	store := persistence.NewMemoryStorage(media.Flash128K.Capacity())
	if _, err := Open(media.Flash128K, "sst", store); err == nil {
		t.Fatal("expected error mounting a 64K chip as flash128k")
	}
}

func TestFreshImageErasedPattern(t *testing.T) {
	flash, err := NewFlash(FlashSST64K, persistence.NewMemoryStorage(64*1024))
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	defer flash.Close()
	if got := flash.Read8(media.BackupBase + 0x1234); got != 0xFF {
		t.Errorf("fresh flash byte expected 0xFF, actual %#02x", got)
	}

	sram, err := NewSRAM(persistence.NewMemoryStorage(32 * 1024))
	if err != nil {
		t.Fatalf("NewSRAM: %v", err)
	}
	defer sram.Close()
	if got := sram.Read8(media.BackupBase + 0x1234); got != 0x00 {
		t.Errorf("fresh sram byte expected 0x00, actual %#02x", got)
	}
}

func TestOpenRejectsImageSizeMismatch(t *testing.T) {
	store := persistence.NewMemoryStorage(123)
	if _, err := NewSRAM(store); err == nil {
		t.Fatal("expected error for undersized image")
	}
}
