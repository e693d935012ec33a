// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/ffutop/cartsave/internal/config"
)

const usageHeader = `cartsave - cartridge save media tool

Usage:
  cartsave [flags] <command>

Commands:
  info      print medium geometry and the save header
  format    write a fresh save header, reformatting foreign media
  slots     list every slot and its state
  read      print the payload of one slot        (--slot)
  write     store a JSON payload in one slot     (--slot --data [--meta])
  erase     clear one slot                       (--slot)
  export    copy the medium into an image file   (--out [--gzip])
  import    program an image file onto the medium (--in [--gzip])
  dump      hex dump a byte range                ([--offset] [--length])
  serve     expose the cartridge bus to remote clients
  shell     interactive session

Flags:
`

func main() {
	flags := pflag.NewFlagSet("cartsave", pflag.ExitOnError)
	flags.SortFlags = false
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usageHeader)
		fmt.Fprint(os.Stderr, flags.FlagUsages())
	}

	configFile := flags.StringP("config", "c", "", "Path to config file")
	flags.StringP("media", "m", "", "Save media type (sram, flash64k, flash128k, eeprom512b, eeprom8k)")
	flags.String("flash-chip", "", "Emulated flash chip profile (sst, macronix, panasonic, atmel, sanyo, macronix128k)")
	flags.String("persistence", "", "Cartridge image store (memory, file, mmap, sqlite)")
	flags.String("image", "", "Image path for the file and mmap stores")
	flags.String("dsn", "", "Database DSN for the sqlite store")
	flags.IntP("slots", "n", 0, "Number of save slots in the layout")
	flags.String("magic", "", "Header magic identifying the game, at most 32 bytes")
	flags.Int("min-sector-size", 0, "Record granularity floor in bytes")
	flags.BoolP("remote", "r", false, "Drive a cartridge reader over the remote link instead of a local image")
	flags.String("remote-transport", "", "Remote reader transport (tcp, serial)")
	flags.String("remote-address", "", "Remote reader TCP address")
	flags.Uint8("device-id", 0, "Remote reader device id")
	flags.String("remote-serial", "", "Remote reader serial device")
	flags.String("serve-transport", "", "Transport for serve (tcp, serial)")
	flags.String("serve-address", "", "Listen address for serve")
	flags.String("serve-serial", "", "Serial device for serve")
	flags.String("log-level", "", "Log verbosity (debug, info, warn, error)")
	flags.String("log-file", "", "Log file path, '-' for stdout")

	slot := flags.IntP("slot", "i", 0, "Slot index for read, write and erase")
	data := flags.String("data", "", "JSON payload for write")
	meta := flags.String("meta", "", "Metadata stored alongside the payload")
	out := flags.StringP("out", "o", "", "Output file for export")
	in := flags.String("in", "", "Input file for import")
	gz := flags.BoolP("gzip", "z", false, "Compress exports, expect compressed imports")
	offset := flags.Int("offset", 0, "Start offset for dump")
	length := flags.Int("length", 0, "Byte count for dump, 0 dumps to the end")

	flags.Parse(os.Args[1:])

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}
	command := flags.Arg(0)
	if command == "help" {
		flags.Usage()
		return
	}

	// Load Configuration
	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	app, err := newApp(cfg)
	if err != nil {
		slog.Error("Failed to open cartridge", "err", err)
		os.Exit(1)
	}

	switch command {
	case "info":
		err = app.cmdInfo(os.Stdout)
	case "format":
		err = app.cmdFormat()
	case "slots":
		err = app.cmdSlots(os.Stdout)
	case "read":
		err = app.cmdRead(os.Stdout, *slot)
	case "write":
		err = app.cmdWrite(*slot, *data, *meta)
	case "erase":
		err = app.cmdErase(*slot)
	case "export":
		err = app.cmdExport(*out, *gz)
	case "import":
		err = app.cmdImport(*in, *gz)
	case "dump":
		err = app.cmdDump(os.Stdout, *offset, *length)
	case "serve":
		err = app.cmdServe()
	case "shell":
		err = app.cmdShell()
	default:
		app.Close()
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		flags.Usage()
		os.Exit(2)
	}

	if cerr := app.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		slog.Error("Command failed", "command", command, "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
