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

// Package swap implements the power-fail-safe BOOT<->UPDATE exchange
// of spec.md §4.6: a sector-by-sector three-way copy through a single
// scratch sector, resumable from any point a power cut could land on.
// This is the core algorithm the rest of the bootloader exists to
// drive correctly.
package swap

import (
	"secureboot.dev/bootloader/hal"
	"secureboot.dev/bootloader/partition"
	"secureboot.dev/bootloader/util"
)

// Engine is satisfied by both SoftwareEngine (the generic sector-by-
// sector algorithm) and DualBankEngine (the hardware-assisted
// alternative for targets exposing hal.DualBankFlash), per spec.md §9's
// instruction to make dualbank-hw-swap "an alternative implementation
// of the swap-engine interface, not a conditional branch inside the
// generic engine".
type Engine interface {
	// Run performs (or resumes) the exchange of BOOT and UPDATE. It is
	// safe to call after any power cut during a previous call: the
	// engine inspects on-flash state and continues from there.
	Run() error
}

// SoftwareEngine is the generic swap engine of spec.md §4.6. It owns
// the scratch sector as the sole intermediate buffer and is the only
// writer of BOOT/UPDATE trailers and of scratch during a swap.
type SoftwareEngine struct {
	Boot         *partition.Partition
	Update       *partition.Partition
	Scratch      partition.Area
	ScratchFlash hal.Flash
	Watchdog     hal.Watchdog
}

var _ Engine = (*SoftwareEngine)(nil)

func (e *SoftwareEngine) watchdog() hal.Watchdog {
	if e.Watchdog != nil {
		return e.Watchdog
	}
	return hal.NopWatchdog{}
}

// Run executes or resumes the full swap across every body sector, then
// finalizes by marking BOOT as TESTING, per spec.md §4.6's finalization
// policy.
func (e *SoftwareEngine) Run() error {
	n := e.Boot.NumBodySectors()
	if u := e.Update.NumBodySectors(); u != n {
		return util.FmtBootError(util.KindFatal,
			"BOOT and UPDATE have different sector counts (%d vs %d)", n, u)
	}

	for i := uint32(0); i < n; i++ {
		if err := e.runSector(i); err != nil {
			return err
		}
		e.watchdog().Feed()
	}

	if err := e.Boot.WriteStateThroughErase(partition.StateTesting); err != nil {
		return err
	}
	return e.eraseScratch()
}

// Rearm resets both BOOT and UPDATE's per-sector flags (and, as a side
// effect of the shared trailer layout, their STATE bytes) back to
// their erased defaults. A completed swap leaves every sector flagged
// UPDATED/BACKUP, which runSector's resume table reads as "already
// swapped, nothing to do" - correct for resuming an interrupted pass,
// but it also means calling Run again to reverse a *completed* swap
// (automatic rollback, or restoring a backup after BOOT fails
// verification) would silently no-op every sector. Callers call Rearm
// immediately before such a re-invocation, never before resuming a
// swap that might still be in progress.
func (e *SoftwareEngine) Rearm() error {
	if err := e.Boot.EraseTrailer(); err != nil {
		return err
	}
	return e.Update.EraseTrailer()
}

// runSector drives one sector index through the four steps of
// spec.md §4.6, resuming from wherever its flags and the scratch header
// indicate a previous attempt was interrupted. The resume table is
// reproduced directly in the switch below.
func (e *SoftwareEngine) runSector(i uint32) error {
	bootFlag, err := e.Boot.ReadSectorFlag(i)
	if err != nil {
		return err
	}
	updFlag, err := e.Update.ReadSectorFlag(i)
	if err != nil {
		return err
	}
	hdr, err := e.readScratchHeader()
	if err != nil {
		return err
	}
	scratchMatches := hdr.valid && hdr.srcRole == partition.RoleUpdate && hdr.srcSector == i

	switch {
	case bootFlag == partition.FlagUpdated && updFlag == partition.FlagBackup:
		// Sector i is already fully swapped; nothing to do.
		return nil

	case bootFlag == partition.FlagSwapping && updFlag == partition.FlagBackup:
		// Power cut after step 2 but before/during step 3: scratch
		// still holds UPDATE[i]'s original content. Resume at install.
		return e.stepInstall(i)

	case bootFlag == partition.FlagSwapping && updFlag == partition.FlagNew && scratchMatches:
		// Power cut after step 1 but before/during step 2. Resume at
		// backup.
		if err := e.stepBackup(i); err != nil {
			return err
		}
		return e.stepInstall(i)

	default:
		// bootFlag == NEW, updFlag == NEW (sector not yet touched), or
		// any other combination: start the sector fresh from step 1.
		// Flags are write-once-monotonic, so no other combination is
		// reachable without a prior stage having already run.
		if err := e.stepStage(i); err != nil {
			return err
		}
		if err := e.stepBackup(i); err != nil {
			return err
		}
		return e.stepInstall(i)
	}
}

// stepStage is step 1: copy UPDATE[i] into scratch, record the scratch
// header, and mark BOOT[i] as mid-swap.
func (e *SoftwareEngine) stepStage(i uint32) error {
	sectorSize := e.Update.Area.SectorSize
	data, err := e.readSector(e.Update, i, sectorSize)
	if err != nil {
		return err
	}

	if err := e.eraseScratch(); err != nil {
		return err
	}
	if err := e.writeScratchPayload(data); err != nil {
		return err
	}
	if err := e.writeScratchHeader(partition.RoleUpdate, i); err != nil {
		return err
	}

	return e.Boot.WriteSectorFlag(i, partition.FlagSwapping)
}

// stepBackup is step 2: copy BOOT[i] into UPDATE[i] (erased first) so
// the previous firmware survives as a backup, and mark UPDATE[i]
// accordingly.
func (e *SoftwareEngine) stepBackup(i uint32) error {
	sectorSize := e.Boot.Area.SectorSize
	data, err := e.readSector(e.Boot, i, sectorSize)
	if err != nil {
		return err
	}

	if err := e.writeSectorErased(e.Update, i, data); err != nil {
		return err
	}

	return e.Update.WriteSectorFlag(i, partition.FlagBackup)
}

// stepInstall is step 3: copy the scratch payload into BOOT[i] (erased
// first) and mark BOOT[i] fully swapped.
func (e *SoftwareEngine) stepInstall(i uint32) error {
	sectorSize := e.Boot.Area.SectorSize
	data, err := e.readScratchPayload(sectorSize)
	if err != nil {
		return err
	}

	if err := e.writeSectorErased(e.Boot, i, data); err != nil {
		return err
	}

	return e.Boot.WriteSectorFlag(i, partition.FlagUpdated)
}

func (e *SoftwareEngine) readSector(p *partition.Partition, i uint32, sectorSize uint32) ([]byte, error) {
	buf := make([]byte, sectorSize)
	addr := p.Area.Offset + i*sectorSize
	if err := p.Flash.Read(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeSectorErased erases body sector i of p and programs data into
// it. Every program is checked with TryProgram before the Write, per
// spec.md's Design Notes on flash_try_program - immediately after an
// erase this never needs a second erase, since every bit starts at the
// erase value.
func (e *SoftwareEngine) writeSectorErased(p *partition.Partition, i uint32, data []byte) error {
	addr := p.Area.Offset + i*p.Area.SectorSize
	if err := p.Flash.Erase(addr, p.Area.SectorSize); err != nil {
		return err
	}
	if err := p.Flash.TryProgram(addr, data); err != nil {
		return err
	}
	return p.Flash.Write(addr, data)
}
