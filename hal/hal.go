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

// Package hal declares the contracts the bootloader core consumes from
// per-target code: flash read/write/erase, the final jump into
// application code, and the watchdog kick.  None of it is implemented
// here - per spec.md §1, drivers, the physical jump, and crypto
// primitives are external collaborators.  halmock supplies a host-side
// Flash implementation for tests.
package hal

import "secureboot.dev/bootloader/util"

// ErrNeedsErase is returned by Flash.TryProgram when the requested write
// would require clearing a bit from 0 to 1, which flash cannot do
// without an erase first.  Callers must never paper over this by
// retrying with a raw Write.
var ErrNeedsErase = util.FmtBootError(util.KindTransientFlash,
	"program requires erase: new value has a 1 where flash holds a 0")

// Flash is the contract a per-target flash driver (internal or
// XIP-mapped external/QSPI) must satisfy.  Addresses are absolute
// within the device's address space; Flash does not know about
// partition roles.
type Flash interface {
	// Read always succeeds for mapped flash and fills buf completely.
	Read(addr uint32, buf []byte) error

	// Write requires addr to be aligned to WriteGranularity() and
	// programs len(data) bytes starting at addr.  Write must only ever
	// clear bits; a caller that has not first verified via TryProgram
	// that the transition is erase-free has violated the contract.
	Write(addr uint32, data []byte) error

	// Erase requires addr and len to be multiples of SectorSize() and
	// sets every bit in the range to 1.
	Erase(addr uint32, length uint32) error

	// TryProgram reports whether writing newData at addr is possible
	// without an erase (i.e. every byte of newData ANDed with the
	// current flash contents equals newData - no 0->1 transitions).  It
	// performs no write.  Every trailer/flag update in this module goes
	// through TryProgram before calling Write, per spec.md's Design
	// Notes on monotonic flash writes.
	TryProgram(addr uint32, newData []byte) error

	// Unlock/Lock scope write permission.  Nested calls refcount: the
	// Nth Lock call only actually locks once every Unlock has a
	// matching Lock.
	Unlock() error
	Lock() error

	// SectorSize returns the erase granularity at addr.  Implementations
	// that are uniform across the device may ignore addr.
	SectorSize(addr uint32) uint32

	// WriteGranularity returns the minimum aligned write size (1, 2, 4,
	// or 8 bytes depending on target) at addr.
	WriteGranularity(addr uint32) uint32
}

// Boot is the contract for transferring control to verified application
// code.  Jump never returns on real hardware; the mock implementation
// used in tests instead records the entry point for assertions.
type Boot interface {
	// Jump hands control to the application whose entry point is
	// encoded by the partition starting at addr. Does not return on a
	// real target.
	Jump(addr uint32) error

	// Halt enters the defined failure loop described in spec.md §7,
	// optionally kicking a configured watchdog so the system resets
	// instead of spinning forever.
	Halt(reason error)
}

// Watchdog is serviced between sectors and between hash blocks during
// the long-running operations spec.md §5 identifies (flash erase,
// hashing, signature verification).
type Watchdog interface {
	Feed()
}

// NopWatchdog satisfies Watchdog for targets or tests with no
// configured watchdog.
type NopWatchdog struct{}

func (NopWatchdog) Feed() {}

// DualBankFlash is implemented by targets whose flash controller offers
// a single atomic bank-swap operation (spec.md §9's
// hal_flash_dualbank_swap). Where present, swap.DualBankEngine replaces
// the whole sector-by-sector software algorithm with one call into this
// interface - an alternative implementation of the swap engine, not a
// conditional branch inside it.
type DualBankFlash interface {
	DualBankSwap() error
}
