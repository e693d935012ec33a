// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/grid-x/serial"
	"github.com/klauspost/compress/gzip"
	"github.com/natefinch/atomic"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ffutop/cartsave/internal/cart"
	"github.com/ffutop/cartsave/internal/cart/persistence"
	"github.com/ffutop/cartsave/internal/config"
	"github.com/ffutop/cartsave/media"
	"github.com/ffutop/cartsave/media/eeprom"
	"github.com/ffutop/cartsave/media/flash"
	"github.com/ffutop/cartsave/media/sram"
	"github.com/ffutop/cartsave/remote"
	"github.com/ffutop/cartsave/save"
)

// app wires the configured bus, media drivers and save manager behind
// the CLI commands. The bus is either a local cartridge image or a
// remote reader, everything above it is agnostic.
type app struct {
	cfg       *config.Config
	mediaType media.MediaType
	bus       media.Bus
	timer     media.Timer

	manager *save.Manager
	bound   bool

	cartridge *cart.Cartridge // local image, nil when remote
	sender    remote.Sender   // remote link, nil when local
}

func newApp(cfg *config.Config) (*app, error) {
	mt, err := media.ParseMediaType(cfg.Cart.Media)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, mediaType: mt, timer: cart.NewHostTimer()}

	if cfg.Remote.Enabled {
		sender, err := newSender(cfg.Remote)
		if err != nil {
			return nil, err
		}
		a.sender = sender
		a.bus = remote.NewBus(sender, cfg.Remote.DeviceID)
	} else {
		store, err := newStorage(cfg.Cart.Persistence, mt.Capacity())
		if err != nil {
			return nil, err
		}
		cartridge, err := cart.Open(mt, cfg.Cart.FlashChip, store)
		if err != nil {
			return nil, err
		}
		a.cartridge = cartridge
		a.bus = cartridge
	}

	a.manager = save.NewManager(a.bus)
	return a, nil
}

func (a *app) Close() error {
	if a.cartridge != nil {
		return a.cartridge.Close()
	}
	if a.sender != nil {
		return a.sender.Close()
	}
	return nil
}

func newStorage(cfg config.PersistenceConfig, size int) (persistence.Storage, error) {
	switch cfg.Type {
	case "memory":
		return persistence.NewMemoryStorage(size), nil
	case "file":
		return persistence.NewFileStorage(cfg.Path, size), nil
	case "mmap":
		return persistence.NewMmapStorage(cfg.Path, size), nil
	case "sqlite":
		return persistence.NewSQLStorage("sqlite3", cfg.DSN, size), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}

func newSender(cfg config.RemoteConfig) (remote.Sender, error) {
	switch cfg.Transport {
	case "tcp":
		return remote.NewTCPClient(cfg.Address), nil
	case "serial":
		return remote.NewSerialClient(serialConfig(cfg.Serial)), nil
	default:
		return nil, fmt.Errorf("unknown remote transport %q", cfg.Transport)
	}
}

func serialConfig(sc config.SerialConfig) serial.Config {
	return serial.Config{
		Address:  sc.Device,
		BaudRate: sc.BaudRate,
		DataBits: sc.DataBits,
		StopBits: sc.StopBits,
		Parity:   sc.Parity,
		Timeout:  sc.Timeout,
		RS485: serial.RS485Config{
			Enabled:            sc.RS485,
			DelayRtsBeforeSend: sc.DelayRtsBeforeSend,
			DelayRtsAfterSend:  sc.DelayRtsAfterSend,
			RtsHighDuringSend:  sc.RtsHighDuringSend,
			RtsHighAfterSend:   sc.RtsHighAfterSend,
			RxDuringTx:         sc.RxDuringTx,
		},
	}
}

// backend builds a bare media driver for image level commands that must
// work without a save header on the medium.
func (a *app) backend() (media.Access, error) {
	switch a.mediaType {
	case media.Sram:
		return sram.New(a.bus), nil
	case media.Flash64K, media.Flash128K:
		return flash.New(a.bus), nil
	case media.Eeprom512B:
		return eeprom.New512B(a.bus), nil
	case media.Eeprom8K:
		return eeprom.New8K(a.bus), nil
	default:
		return nil, fmt.Errorf("unknown media type %v", a.mediaType)
	}
}

// reopen binds the save manager to the medium once. Later calls are
// free, so the shell can chain commands on one app.
func (a *app) reopen() error {
	if a.bound {
		return nil
	}
	cfg := a.cfg.Save
	err := a.manager.Reopen(a.mediaType, cfg.Slots, save.MagicString(cfg.Magic), cfg.MinSectorSize, a.timer)
	if err != nil {
		return err
	}
	a.bound = true
	return nil
}

func (a *app) checkSlot(i int) error {
	if i < 0 || i >= a.manager.NumSlots() {
		return fmt.Errorf("slot %d out of range, medium has %d slots", i, a.manager.NumSlots())
	}
	return nil
}

func (a *app) cmdInfo(w io.Writer) error {
	backend, err := a.backend()
	if err != nil {
		return err
	}
	info, err := backend.Info()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "media:       %s\n", info.MediaType)
	fmt.Fprintf(w, "capacity:    %d bytes\n", info.Len())
	fmt.Fprintf(w, "sector size: %d bytes\n", info.SectorSize())
	fmt.Fprintf(w, "sectors:     %d\n", info.SectorCount)
	if f, ok := backend.(*flash.Driver); ok {
		fmt.Fprintf(w, "flash chip:  %s\n", f.Chip().Name)
	}

	switch err := a.reopen(); {
	case errors.Is(err, media.ErrNotInitialized):
		fmt.Fprintf(w, "header:      none, run 'cartsave format'\n")
	case errors.Is(err, media.ErrConfigMismatch):
		fmt.Fprintf(w, "header:      %v\n", err)
	case err != nil:
		return err
	default:
		fmt.Fprintf(w, "magic:       %q\n", a.manager.Magic())
		fmt.Fprintf(w, "slots:       %d\n", a.manager.NumSlots())
		fmt.Fprintf(w, "min sector:  %d bytes\n", a.manager.MinSectorSize())
	}
	return nil
}

func (a *app) cmdFormat() error {
	if a.bound {
		return errors.New("medium already bound in this session")
	}
	cfg := a.cfg.Save
	magic := save.MagicString(cfg.Magic)

	var err error
	switch a.mediaType {
	case media.Sram:
		err = a.manager.InitSRAM(cfg.Slots, magic, cfg.MinSectorSize, a.timer)
	case media.Flash64K:
		err = a.manager.InitFlash64K(cfg.Slots, magic, cfg.MinSectorSize, a.timer)
	case media.Flash128K:
		err = a.manager.InitFlash128K(cfg.Slots, magic, cfg.MinSectorSize, a.timer)
	case media.Eeprom512B:
		err = a.manager.InitEEPROM512B(cfg.Slots, magic, cfg.MinSectorSize, a.timer)
	case media.Eeprom8K:
		err = a.manager.InitEEPROM8K(cfg.Slots, magic, cfg.MinSectorSize, a.timer)
	default:
		err = fmt.Errorf("unknown media type %v", a.mediaType)
	}
	if err != nil {
		return err
	}
	a.bound = true
	slog.Info("Save medium formatted", "media", a.mediaType, "slots", cfg.Slots, "magic", cfg.Magic)
	return nil
}

func (a *app) cmdSlots(w io.Writer) error {
	if err := a.reopen(); err != nil {
		return err
	}
	slots, err := save.NewSlotManager[json.RawMessage](a.manager)
	if err != nil {
		return err
	}
	list, err := slots.Slots()
	if err != nil {
		return err
	}
	for _, s := range list {
		if s.State != save.SlotValid {
			fmt.Fprintf(w, "slot %d: %s\n", s.Index, s.State)
			continue
		}
		if len(s.Meta) > 0 {
			fmt.Fprintf(w, "slot %d: %d byte payload, meta %q\n", s.Index, len(s.Value), s.Meta)
		} else {
			fmt.Fprintf(w, "slot %d: %d byte payload\n", s.Index, len(s.Value))
		}
	}
	return nil
}

func (a *app) cmdRead(w io.Writer, slot int) error {
	if err := a.reopen(); err != nil {
		return err
	}
	if err := a.checkSlot(slot); err != nil {
		return err
	}
	slots, err := save.NewSlotManager[json.RawMessage](a.manager)
	if err != nil {
		return err
	}
	value, err := slots.Read(slot)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", value)
	return nil
}

func (a *app) cmdWrite(slot int, data, meta string) error {
	if data == "" {
		return errors.New("write needs --data with a JSON payload")
	}
	if !json.Valid([]byte(data)) {
		return errors.New("payload is not valid JSON")
	}
	if err := a.reopen(); err != nil {
		return err
	}
	if err := a.checkSlot(slot); err != nil {
		return err
	}
	slots, err := save.NewSlotManager[json.RawMessage](a.manager)
	if err != nil {
		return err
	}
	value := json.RawMessage(data)
	var metaBytes []byte
	if meta != "" {
		metaBytes = []byte(meta)
	}
	if err := slots.Write(slot, &value, metaBytes); err != nil {
		return err
	}
	slog.Info("Slot written", "slot", slot, "bytes", len(value))
	return nil
}

func (a *app) cmdErase(slot int) error {
	if err := a.reopen(); err != nil {
		return err
	}
	if err := a.checkSlot(slot); err != nil {
		return err
	}
	slots, err := save.NewSlotManager[json.RawMessage](a.manager)
	if err != nil {
		return err
	}
	if err := slots.Erase(slot); err != nil {
		return err
	}
	slog.Info("Slot erased", "slot", slot)
	return nil
}

func (a *app) cmdExport(out string, compress bool) error {
	if out == "" {
		return errors.New("export needs --out")
	}
	backend, err := a.backend()
	if err != nil {
		return err
	}
	info, err := backend.Info()
	if err != nil {
		return err
	}

	img := make([]byte, info.Len())
	timeout := media.NewTimeout(a.timer)
	defer timeout.Stop()
	if err := backend.Read(0, img, &timeout); err != nil {
		return fmt.Errorf("failed to read medium: %w", err)
	}

	var buf bytes.Buffer
	if compress {
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(img); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	} else {
		buf.Write(img)
	}
	if err := atomic.WriteFile(out, &buf); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}
	slog.Info("Medium exported", "file", out, "bytes", len(img), "gzip", compress)
	return nil
}

func (a *app) cmdImport(in string, compressed bool) error {
	if in == "" {
		return errors.New("import needs --in")
	}
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip image: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	img, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	backend, err := a.backend()
	if err != nil {
		return err
	}
	info, err := backend.Info()
	if err != nil {
		return err
	}
	if len(img) != info.Len() {
		return fmt.Errorf("image is %d bytes, medium holds %d", len(img), info.Len())
	}

	timeout := media.NewTimeout(a.timer)
	defer timeout.Stop()
	if err := backend.PrepareWrite(0, len(img), &timeout); err != nil {
		return fmt.Errorf("failed to erase medium: %w", err)
	}
	if err := backend.Write(0, img, &timeout); err != nil {
		return fmt.Errorf("failed to program medium: %w", err)
	}
	match, err := backend.Verify(0, img, &timeout)
	if err != nil {
		return err
	}
	if !match {
		return fmt.Errorf("medium contents differ after programming: %w", media.ErrVerifyFailed)
	}
	slog.Info("Image imported", "file", in, "bytes", len(img))
	return nil
}

func (a *app) cmdDump(w io.Writer, offset, length int) error {
	backend, err := a.backend()
	if err != nil {
		return err
	}
	info, err := backend.Info()
	if err != nil {
		return err
	}
	if length <= 0 {
		length = info.Len() - offset
	}
	if offset < 0 || length < 0 || offset+length > info.Len() {
		return fmt.Errorf("range [%d, %d) outside the %d byte medium: %w",
			offset, offset+length, info.Len(), media.ErrOutOfBounds)
	}

	buf := make([]byte, length)
	timeout := media.NewTimeout(a.timer)
	defer timeout.Stop()
	if err := backend.Read(offset, buf, &timeout); err != nil {
		return err
	}

	d := hex.Dumper(w)
	defer d.Close()
	_, err = d.Write(buf)
	return err
}

func (a *app) cmdServe() error {
	var server remote.Server
	switch a.cfg.Serve.Transport {
	case "tcp":
		server = remote.NewTCPServer(a.cfg.Serve.Address)
	case "serial":
		server = remote.NewSerialServer(serialConfig(a.cfg.Serve.Serial))
	default:
		return fmt.Errorf("unknown serve transport %q", a.cfg.Serve.Transport)
	}

	slog.Info("Starting cartridge server...",
		"transport", a.cfg.Serve.Transport, "media", a.mediaType)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := remote.NewCartHandler(a.bus)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx, handler); err != nil {
			slog.Error("Server stopped with error", "err", err)
		}
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	slog.Info("Goodbye.")
	return nil
}
