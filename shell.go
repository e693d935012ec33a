// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
)

var shellCommands = []string{
	"info", "slots", "read", "write", "erase", "peek", "poke", "help", "quit",
}

const shellHelp = `info                         medium geometry and save header
slots                        list slot states
read <slot>                  print a slot payload
write <slot> <json> [meta]   store a payload in a slot
erase <slot>                 clear a slot
peek <addr> [n]              read n bus bytes, addr may be hex
poke <addr> <byte>...        write bytes to the bus
quit                         leave the shell`

// cmdShell runs an interactive session against the configured medium.
func (a *app) cmdShell() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) (c []string) {
		for _, cmd := range shellCommands {
			if strings.HasPrefix(cmd, strings.ToLower(l)) {
				c = append(c, cmd)
			}
		}
		return
	})

	historyFile := filepath.Join(os.TempDir(), ".cartsave_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Printf("cartsave shell on %s, 'help' lists commands\n", a.mediaType)
	for {
		input, err := line.Prompt("cartsave> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "quit" || input == "exit" {
			return nil
		}
		if err := a.shellDispatch(input); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func (a *app) shellDispatch(input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Println(shellHelp)
		return nil

	case "info":
		return a.cmdInfo(os.Stdout)

	case "slots":
		return a.cmdSlots(os.Stdout)

	case "read":
		if len(args) != 1 {
			return errors.New("usage: read <slot>")
		}
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return a.cmdRead(os.Stdout, slot)

	case "write":
		if len(args) < 2 {
			return errors.New("usage: write <slot> <json> [meta]")
		}
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		meta := ""
		if len(args) > 2 {
			meta = strings.Join(args[2:], " ")
		}
		return a.cmdWrite(slot, args[1], meta)

	case "erase":
		if len(args) != 1 {
			return errors.New("usage: erase <slot>")
		}
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return a.cmdErase(slot)

	case "peek":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: peek <addr> [n]")
		}
		addr, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return err
		}
		n := 1
		if len(args) == 2 {
			if n, err = strconv.Atoi(args[1]); err != nil {
				return err
			}
		}
		for i := 0; i < n; i++ {
			fmt.Printf("%02x ", a.bus.Read8(uint32(addr)+uint32(i)))
			if (i+1)%16 == 0 {
				fmt.Println()
			}
		}
		if n%16 != 0 {
			fmt.Println()
		}
		return nil

	case "poke":
		if len(args) < 2 {
			return errors.New("usage: poke <addr> <byte>...")
		}
		addr, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return err
		}
		for i, arg := range args[1:] {
			v, err := strconv.ParseUint(arg, 0, 8)
			if err != nil {
				return err
			}
			a.bus.Write8(uint32(addr)+uint32(i), byte(v))
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
}
