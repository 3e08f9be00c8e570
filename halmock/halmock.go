/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package halmock implements hal.Flash and hal.Boot entirely in host
// memory, plus a deterministic power-cut injector that fails Write and
// Erase calls once a per-device operation budget is used up, so that
// swap.Engine can be interrupted and resumed (spec.md §8 property 3).
// TryProgram only checks and is not counted against the budget.
package halmock

import (
	"bytes"

	"secureboot.dev/bootloader/hal"
	"secureboot.dev/bootloader/util"
)

// ErrPowerCut is returned by Write/Erase once the injected operation
// budget is exhausted.  swap.Engine returns it like any other flash
// error: Run stops, and the next Run resumes from on-flash state.
var ErrPowerCut = util.FmtBootError(util.KindTransientFlash,
	"simulated power cut")

// Flash is an in-memory flash device.  Erased bytes read as EraseVal
// (conventionally 0xFF).  SectorSz and WriteGran describe the device's
// erase and write granularity uniformly across its whole address range,
// which is adequate for every scenario in spec.md §8.
type Flash struct {
	Mem       []byte
	EraseVal  byte
	SectorSz  uint32
	WriteGran uint32

	lockDepth int

	// opBudget, when >= 0, counts down once per Write/Erase call; the
	// call that takes it to zero succeeds, and every call after that
	// fails with ErrPowerCut. A negative budget means "unlimited".
	opBudget int

	// Ops records every completed Write/Erase for test assertions
	// about ordering (spec.md §4.6's "no sector of BOOT is overwritten
	// before its content is present in UPDATE" guarantee).
	Ops []Op
}

// Op is one completed flash mutation, recorded for test assertions.
type Op struct {
	Kind   string // "write" or "erase"
	Addr   uint32
	Length uint32
}

func NewFlash(size int, eraseVal byte, sectorSize, writeGran uint32) *Flash {
	f := &Flash{
		Mem:       make([]byte, size),
		EraseVal:  eraseVal,
		SectorSz:  sectorSize,
		WriteGran: writeGran,
		opBudget:  -1,
	}
	for i := range f.Mem {
		f.Mem[i] = eraseVal
	}
	return f
}

// SetOpBudget arms the power-cut injector: the next budget Write/Erase
// calls succeed and every call after them fails with ErrPowerCut (a
// budget of 0 fails the very next call). A negative value disables
// injection (the default).
func (f *Flash) SetOpBudget(budget int) {
	f.opBudget = budget
}

func (f *Flash) consumeBudget() error {
	if f.opBudget < 0 {
		return nil
	}
	if f.opBudget == 0 {
		return ErrPowerCut
	}
	f.opBudget--
	return nil
}

func (f *Flash) Read(addr uint32, buf []byte) error {
	if int(addr)+len(buf) > len(f.Mem) {
		return util.FmtBootError(util.KindFatal,
			"flash read out of range: addr=%d len=%d size=%d",
			addr, len(buf), len(f.Mem))
	}
	copy(buf, f.Mem[addr:int(addr)+len(buf)])
	return nil
}

func (f *Flash) TryProgram(addr uint32, newData []byte) error {
	if int(addr)+len(newData) > len(f.Mem) {
		return util.FmtBootError(util.KindFatal,
			"flash program out of range: addr=%d len=%d size=%d",
			addr, len(newData), len(f.Mem))
	}

	gran := f.WriteGranularity(addr)
	if gran != 0 && uint32(addr)%gran != 0 {
		return util.FmtBootError(util.KindTransientFlash,
			"unaligned program at addr=%d granularity=%d", addr, gran)
	}

	cur := f.Mem[addr : int(addr)+len(newData)]
	for i, nb := range newData {
		// A 0->1 transition exists wherever the old byte has a 0 bit
		// that the new byte wants as 1.
		if nb&^cur[i] != 0 {
			return hal.ErrNeedsErase
		}
	}

	return nil
}

func (f *Flash) Write(addr uint32, data []byte) error {
	if err := f.TryProgram(addr, data); err != nil {
		return err
	}

	if err := f.consumeBudget(); err != nil {
		return err
	}

	copy(f.Mem[addr:int(addr)+len(data)], data)
	f.Ops = append(f.Ops, Op{Kind: "write", Addr: addr, Length: uint32(len(data))})
	return nil
}

func (f *Flash) Erase(addr uint32, length uint32) error {
	if f.SectorSz != 0 {
		if addr%f.SectorSz != 0 || length%f.SectorSz != 0 {
			return util.FmtBootError(util.KindTransientFlash,
				"erase not sector-aligned: addr=%d len=%d sector=%d",
				addr, length, f.SectorSz)
		}
	}
	if int(addr)+int(length) > len(f.Mem) {
		return util.FmtBootError(util.KindFatal,
			"flash erase out of range: addr=%d len=%d size=%d",
			addr, length, len(f.Mem))
	}

	if err := f.consumeBudget(); err != nil {
		return err
	}

	for i := addr; i < addr+length; i++ {
		f.Mem[i] = f.EraseVal
	}
	f.Ops = append(f.Ops, Op{Kind: "erase", Addr: addr, Length: length})
	return nil
}

func (f *Flash) Unlock() error {
	f.lockDepth++
	return nil
}

func (f *Flash) Lock() error {
	if f.lockDepth > 0 {
		f.lockDepth--
	}
	return nil
}

func (f *Flash) SectorSize(addr uint32) uint32      { return f.SectorSz }
func (f *Flash) WriteGranularity(addr uint32) uint32 { return f.WriteGran }

// Contents returns a read-only copy of the region [addr, addr+length).
func (f *Flash) Contents(addr, length uint32) []byte {
	out := make([]byte, length)
	copy(out, f.Mem[addr:addr+length])
	return out
}

// Equal reports whether the region [addr, addr+length) matches want.
func (f *Flash) Equal(addr, length uint32, want []byte) bool {
	return bytes.Equal(f.Contents(addr, length), want)
}

// Boot is an in-memory stand-in for the physical jump. Jump does return
// (unlike real hardware) so tests can assert on which address was
// selected; Halted records whether Halt was ever invoked.
type Boot struct {
	JumpedTo []uint32
	Halted   bool
	HaltErr  error
}

func (b *Boot) Jump(addr uint32) error {
	b.JumpedTo = append(b.JumpedTo, addr)
	return nil
}

func (b *Boot) Halt(reason error) {
	b.Halted = true
	b.HaltErr = reason
}

// Watchdog counts how many times Feed was called, so tests can assert
// it was serviced during long operations per spec.md §5.
type Watchdog struct {
	Fed int
}

func (w *Watchdog) Feed() { w.Fed++ }
