// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cart.Media != "sram" {
		t.Errorf("Cart.Media = %q, want sram", cfg.Cart.Media)
	}
	if cfg.Cart.Persistence.Type != "file" {
		t.Errorf("Cart.Persistence.Type = %q, want file", cfg.Cart.Persistence.Type)
	}
	if cfg.Save.Slots != 3 {
		t.Errorf("Save.Slots = %d, want 3", cfg.Save.Slots)
	}
	if cfg.Save.Magic != "cartsave" {
		t.Errorf("Save.Magic = %q, want cartsave", cfg.Save.Magic)
	}
	if cfg.Remote.DeviceID != 1 {
		t.Errorf("Remote.DeviceID = %d, want 1", cfg.Remote.DeviceID)
	}
	if cfg.Serve.Address != "0.0.0.0:5020" {
		t.Errorf("Serve.Address = %q, want 0.0.0.0:5020", cfg.Serve.Address)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Remote.Serial.Timeout != 500*time.Millisecond {
		t.Errorf("Remote.Serial.Timeout = %v, want 500ms", cfg.Remote.Serial.Timeout)
	}
	if cfg.Remote.Serial.RqstPause != 100*time.Millisecond {
		t.Errorf("Remote.Serial.RqstPause = %v, want 100ms", cfg.Remote.Serial.RqstPause)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
cart:
  media: flash128k
  flash_chip: sanyo
  persistence:
    type: sqlite
    dsn: file:cart.db
save:
  slots: 5
  magic: POKEMON RUBY
  min_sector_size: 512
remote:
  enabled: true
  transport: serial
  device_id: 9
  serial:
    device: /dev/ttyUSB1
    baud_rate: 115200
    parity: n
serve:
  address: 0.0.0.0:6020
log:
  level: debug
  file: /var/log/cartsave.log
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cart.Media != "flash128k" || cfg.Cart.FlashChip != "sanyo" {
		t.Errorf("Cart = %+v", cfg.Cart)
	}
	if cfg.Cart.Persistence.Type != "sqlite" || cfg.Cart.Persistence.DSN != "file:cart.db" {
		t.Errorf("Persistence = %+v", cfg.Cart.Persistence)
	}
	if cfg.Save.Slots != 5 || cfg.Save.Magic != "POKEMON RUBY" || cfg.Save.MinSectorSize != 512 {
		t.Errorf("Save = %+v", cfg.Save)
	}
	if !cfg.Remote.Enabled || cfg.Remote.Transport != "serial" || cfg.Remote.DeviceID != 9 {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Remote.Serial.Device != "/dev/ttyUSB1" || cfg.Remote.Serial.BaudRate != 115200 {
		t.Errorf("Remote.Serial = %+v", cfg.Remote.Serial)
	}
	if cfg.Remote.Serial.Parity != "N" {
		t.Errorf("Remote.Serial.Parity = %q, want fixup to N", cfg.Remote.Serial.Parity)
	}
	if cfg.Serve.Address != "0.0.0.0:6020" {
		t.Errorf("Serve.Address = %q", cfg.Serve.Address)
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/var/log/cartsave.log" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
cart:
  media: eeprom8k
save:
  slots: 5
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("media", "", "")
	flags.Int("slots", 0, "")
	flags.String("magic", "", "")
	if err := flags.Parse([]string{"--media", "flash64k"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// Changed flag beats the file, the file beats defaults, unchanged
	// flags do not mask either.
	if cfg.Cart.Media != "flash64k" {
		t.Errorf("Cart.Media = %q, want flag value flash64k", cfg.Cart.Media)
	}
	if cfg.Save.Slots != 5 {
		t.Errorf("Save.Slots = %d, want file value 5", cfg.Save.Slots)
	}
	if cfg.Save.Magic != "cartsave" {
		t.Errorf("Save.Magic = %q, want default cartsave", cfg.Save.Magic)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("Load() with a missing explicit config file should fail")
	}
}
