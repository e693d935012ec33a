// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Cart   CartConfig   `mapstructure:"cart"`
	Save   SaveConfig   `mapstructure:"save"`
	Remote RemoteConfig `mapstructure:"remote"`
	Serve  ServeConfig  `mapstructure:"serve"`
	Log    LogConfig    `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// CartConfig selects the save medium and where its image lives
type CartConfig struct {
	Media       string            `mapstructure:"media"`      // "sram", "flash64k", "flash128k", "eeprom512b", "eeprom8k"
	FlashChip   string            `mapstructure:"flash_chip"` // Emulated flash profile, empty selects by capacity
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines image storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap", "sqlite"
	Path string `mapstructure:"path"` // Image path for "file/mmap" type
	DSN  string `mapstructure:"dsn"`  // Database DSN for "sqlite" type
}

// SaveConfig defines the save layout used by format and the slot commands
type SaveConfig struct {
	Slots         int    `mapstructure:"slots"`
	Magic         string `mapstructure:"magic"`           // Owning game identity, at most 32 bytes
	MinSectorSize int    `mapstructure:"min_sector_size"` // Record granularity floor in bytes, 0 keeps the media default
}

// RemoteConfig points the tool at a cartridge reader on another machine
// instead of a local image
type RemoteConfig struct {
	Enabled   bool         `mapstructure:"enabled"`
	Transport string       `mapstructure:"transport"` // "tcp", "serial"
	Address   string       `mapstructure:"address"`   // Used if Transport is "tcp"
	DeviceID  uint8        `mapstructure:"device_id"`
	Serial    SerialConfig `mapstructure:"serial"` // Used if Transport is "serial"
}

// ServeConfig defines how serve exposes the cartridge to remote clients
type ServeConfig struct {
	Transport string       `mapstructure:"transport"` // "tcp", "serial"
	Address   string       `mapstructure:"address"`   // Used if Transport is "tcp"
	Serial    SerialConfig `mapstructure:"serial"`    // Used if Transport is "serial"
}

// SerialConfig defines serial line settings
type SerialConfig struct {
	Device    string        `mapstructure:"device"`
	BaudRate  int           `mapstructure:"baud_rate"`
	DataBits  int           `mapstructure:"data_bits"`
	Parity    string        `mapstructure:"parity"`
	StopBits  int           `mapstructure:"stop_bits"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RqstPause time.Duration `mapstructure:"rqst_pause"` // Pause between requests

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// Load reads the configuration. Changed command line flags override the
// file, the file overrides the built-in defaults. A missing config file
// is only an error when it was named explicitly.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/cartsave/")
		v.AddConfigPath("$HOME/.cartsave")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	fixupSerial(&config.Remote.Serial)
	fixupSerial(&config.Serve.Serial)

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cart.media", "sram")
	v.SetDefault("cart.persistence.type", "file")
	v.SetDefault("cart.persistence.path", "cartsave.img")
	v.SetDefault("save.slots", 3)
	v.SetDefault("save.magic", "cartsave")
	v.SetDefault("save.min_sector_size", 0)
	v.SetDefault("remote.transport", "tcp")
	v.SetDefault("remote.address", "127.0.0.1:5020")
	v.SetDefault("remote.device_id", 1)
	v.SetDefault("serve.transport", "tcp")
	v.SetDefault("serve.address", "0.0.0.0:5020")
	v.SetDefault("log.level", "info")
}

// bindFlags wires the command line flags that mirror config keys.
// Unknown names are skipped so callers can bind a partial flag set.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"cart.media":            "media",
		"cart.flash_chip":       "flash-chip",
		"cart.persistence.type": "persistence",
		"cart.persistence.path": "image",
		"cart.persistence.dsn":  "dsn",
		"save.slots":            "slots",
		"save.magic":            "magic",
		"save.min_sector_size":  "min-sector-size",
		"remote.enabled":        "remote",
		"remote.transport":      "remote-transport",
		"remote.address":        "remote-address",
		"remote.device_id":      "device-id",
		"remote.serial.device":  "remote-serial",
		"serve.transport":       "serve-transport",
		"serve.address":         "serve-address",
		"serve.serial.device":   "serve-serial",
		"log.level":             "log-level",
		"log.file":              "log-file",
	}
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.RqstPause == 0 {
		s.RqstPause = 100 * time.Millisecond
	}
}
