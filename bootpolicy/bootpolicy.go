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

// Package bootpolicy implements the reset-time decision sequence of
// spec.md §4.7: run or resume a pending swap, verify the selected BOOT
// image, fall back to a backup on failure, and enforce the optional
// anti-rollback counter. It is the glue between swap, container and
// keystore - the "G.select()" step in spec.md §2's control-flow line.
package bootpolicy

import (
	log "github.com/sirupsen/logrus"

	"secureboot.dev/bootloader/container"
	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/hal"
	"secureboot.dev/bootloader/keystore"
	"secureboot.dev/bootloader/partition"
	"secureboot.dev/bootloader/swap"
	"secureboot.dev/bootloader/util"
)

// UpdateMode selects how a pending update moves from UPDATE into BOOT,
// spec.md §9's `update_mode` config option.
type UpdateMode int

const (
	// ModeSwap runs the resumable three-way exchange; rollback is
	// possible because the previous image survives as a BACKUP.
	ModeSwap UpdateMode = iota

	// ModeDirect copies UPDATE straight into BOOT with no backup. Per
	// spec.md §9's open question on direct mode: rollback is never
	// available in this mode, and this implementation makes no attempt
	// to fake one.
	ModeDirect

	// ModeDualBankHW delegates the exchange to a
	// swap.DualBankEngine backed by hal.DualBankFlash.
	ModeDualBankHW
)

// AntiRollbackMode selects where the monotonic version counter lives,
// spec.md §9's `anti_rollback` config option.
type AntiRollbackMode int

const (
	AntiRollbackOff AntiRollbackMode = iota
	AntiRollbackOTPCounter
	AntiRollbackLockedSector
)

// VersionCounter abstracts the storage spec.md §4.7 names for the
// anti-rollback counter: "OTP or a dedicated locked flash sector". Both
// backings share this contract; AntiRollbackOff simply never consults
// an implementation.
type VersionCounter interface {
	Read() (uint32, error)
	Advance(newVersion uint32) error
}

// Config bundles the per-boot policy choices a target makes at build
// time, generalizing the relevant slice of spec.md §9's BootConfig
// enumeration.
type Config struct {
	UpdateMode     UpdateMode
	AntiRollback   AntiRollbackMode
	VersionCounter VersionCounter

	// HeaderSize is the target's fixed HEADER_SIZE (spec.md §3.1),
	// normally generated into config.BootConfig by cmd/bootcfggen. Zero
	// falls back to 256, the size spec.md's §8 example scenarios use.
	HeaderSize uint32
}

// Policy runs the reset-time sequence of spec.md §4.7 over a concrete
// BOOT/UPDATE partition pair.
type Policy struct {
	Boot     *partition.Partition
	Update   *partition.Partition
	Store    *keystore.Store
	Crypto   cryptohal.Provider
	BootHAL  hal.Boot
	Watchdog hal.Watchdog
	Config   Config

	// NewSwapEngine constructs the engine used to run or resume a
	// pending update. Exposed as a factory so tests can inject a
	// SoftwareEngine wired to halmock, and so ModeDualBankHW can inject
	// a swap.DualBankEngine instead, without Policy itself branching on
	// hal.DualBankFlash capability detection.
	NewSwapEngine func() swap.Engine

	Log *log.Entry
}

func (p *Policy) logger() *log.Entry {
	if p.Log != nil {
		return p.Log
	}
	return log.NewEntry(log.StandardLogger())
}

// Outcome reports which image a Run ultimately selected.
type Outcome struct {
	BootedRole    partition.Role
	Version       uint32
	SwapRan       bool
	RolledBack    bool
	RestoredAfter error
}

// Run executes the full sequence of spec.md §4.7 steps 1-5, short of
// the final Boot HAL jump, which the caller performs once Outcome
// confirms a verified image (keeping the irreversible hand-off outside
// this package, matching spec.md's "ends by jumping" framing rather
// than having Policy itself never return).
func (p *Policy) Run() (*Outcome, error) {
	updState, _, err := p.Update.ReadState()
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	forwardSwapRan := false

	switch {
	case updState == partition.StateUpdating && p.Config.UpdateMode == ModeDirect:
		if err := p.runDirect(); err != nil {
			return nil, err
		}
		outcome.SwapRan = true
		forwardSwapRan = true

	case updState == partition.StateUpdating:
		if err := p.runSwap(outcome); err != nil {
			return nil, err
		}
		forwardSwapRan = true
		if p.Config.UpdateMode == ModeSwap {
			// Consume the one-shot trigger now that the forward swap
			// has run, so a later reset (spec.md §4.7 step 2) doesn't
			// re-enter it forever - the rollback path below, not this
			// one, is what a later unconfirmed reset should take.
			if err := p.consumeUpdateTrigger(); err != nil {
				return nil, err
			}
		}
	}

	// Only consider rollback on a reset where a forward swap didn't
	// just run - otherwise the swap just performed above would be
	// undone in the very same call before the application ever had a
	// chance to confirm it.
	if !forwardSwapRan && p.Config.UpdateMode == ModeSwap {
		bootState, _, err := p.Boot.ReadState()
		if err != nil {
			return nil, err
		}
		if bootState == partition.StateTesting && p.hasAnyBackupFlag() {
			// A prior swap produced this image but the application
			// never confirmed it; reversing the swap restores the
			// backup, per spec.md §4.6's automatic-rollback
			// description.
			p.logger().Warn("BOOT left in TESTING with no confirmation; rolling back")
			if err := p.rearmAndRollback(outcome); err != nil {
				return nil, err
			}
		}
	}

	img, err := p.verifyBoot()
	if err != nil {
		firstErr := err
		restoreErr := p.restoreFromBackup(outcome)
		if restoreErr != nil {
			return nil, util.FmtChildBootError(util.KindFatal, firstErr,
				"BOOT image invalid and no backup available: %v", restoreErr)
		}
		img, err = p.verifyBoot()
		if err != nil {
			return nil, err
		}
		outcome.RestoredAfter = firstErr
	}

	if p.Config.AntiRollback != AntiRollbackOff && p.Config.VersionCounter != nil {
		if err := p.checkAntiRollback(img); err != nil {
			return nil, err
		}
	}

	version := uint32(0)
	if vtlv, ok := img.FindTlv(container.TagVersion); ok && len(vtlv.Value) >= 4 {
		version = leUint32(vtlv.Value)
	}

	outcome.BootedRole = partition.RoleBoot
	outcome.Version = version
	return outcome, nil
}

func (p *Policy) runSwap(outcome *Outcome) error {
	engine := p.NewSwapEngine()
	if err := engine.Run(); err != nil {
		return err
	}
	outcome.SwapRan = true
	return nil
}

// consumeUpdateTrigger marks UPDATE's one-shot trigger as handled once
// a forward swap driven by it has completed. Without this, UPDATE.state
// would stay UPDATING forever and spec.md §4.7 step 2 would re-enter
// the swap engine on every later reset, including ones long after the
// application confirmed the new image. StateSuccess is a legal
// monotonic subset of StateUpdating's bits (no erase needed) and
// otherwise unused on UPDATE, so it doubles here as "trigger consumed,
// now sitting on a confirmed backup".
func (p *Policy) consumeUpdateTrigger() error {
	return p.Update.WriteState(partition.StateSuccess)
}

// rearmAndRollback reverses a completed swap: it resets both
// partitions' sector flags (see swap.Engine's optional Rearm) so the
// engine's per-sector resume logic actually moves data instead of
// reading UPDATED/BACKUP as "nothing to do", then runs it. Used both
// for automatic rollback (spec.md §4.6: an unconfirmed TESTING image
// on a later reset) and for restoring UPDATE's backup when BOOT fails
// verification outright.
func (p *Policy) rearmAndRollback(outcome *Outcome) error {
	engine := p.NewSwapEngine()
	if r, ok := engine.(interface{ Rearm() error }); ok {
		if err := r.Rearm(); err != nil {
			return err
		}
	}
	if err := engine.Run(); err != nil {
		return err
	}

	// The engine always finalizes to TESTING, the generic "unconfirmed"
	// marker for whatever it just installed. A rollback/restore
	// specifically reinstates an image that was already running
	// successfully before the failed update, so spec.md §8 S4 treats
	// the outcome as pre-confirmed rather than making the application
	// call success() again for firmware it already trusted.
	if err := p.Boot.WriteState(partition.StateSuccess); err != nil {
		return err
	}

	outcome.SwapRan = true
	outcome.RolledBack = true
	return nil
}

// runDirect implements ModeDirect: the UPDATE payload becomes BOOT with
// no backup step, matching spec.md §9's note that direct mode forfeits
// rollback entirely. It is not expressed as a swap.Engine because it
// makes no use of scratch or sector flags.
func (p *Policy) runDirect() error {
	n := p.Boot.NumBodySectors()
	for i := uint32(0); i < n; i++ {
		sectorSize := p.Update.Area.SectorSize
		buf := make([]byte, sectorSize)
		addr := p.Update.Area.Offset + i*sectorSize
		if err := p.Update.Flash.Read(addr, buf); err != nil {
			return err
		}

		dstAddr := p.Boot.Area.Offset + i*p.Boot.Area.SectorSize
		if err := p.Boot.Flash.Erase(dstAddr, p.Boot.Area.SectorSize); err != nil {
			return err
		}
		if err := p.Boot.Flash.TryProgram(dstAddr, buf); err != nil {
			return err
		}
		if err := p.Boot.Flash.Write(dstAddr, buf); err != nil {
			return err
		}
		if p.Watchdog != nil {
			p.Watchdog.Feed()
		}
	}
	return p.Boot.WriteStateThroughErase(partition.StateTesting)
}

// verifyBoot opens and fully verifies BOOT, per spec.md §4.3's ordering
// rule: verify_integrity before verify_authenticity.
func (p *Policy) verifyBoot() (*container.Image, error) {
	raw := make([]byte, p.Boot.Area.BodySize())
	if err := p.Boot.Flash.Read(p.Boot.Area.Offset, raw); err != nil {
		return nil, err
	}

	img, err := container.Open(raw, p.headerSize(), p.Boot.Area.BodySize())
	if err != nil {
		return nil, err
	}
	if err := container.VerifyIntegrity(img, p.Crypto); err != nil {
		return nil, err
	}
	if err := container.VerifyAuthenticity(img, p.Store, p.Crypto); err != nil {
		return nil, err
	}
	return img, nil
}

// headerSize returns the target's HEADER_SIZE, generated by
// cmd/bootcfggen into config.BootConfig.HeaderSize and threaded through
// here via Config. HEADER_SIZE is a compile-time constant per spec.md
// §3.1, not something verifyBoot could recover from the image itself.
func (p *Policy) headerSize() uint32 {
	if p.Config.HeaderSize != 0 {
		return p.Config.HeaderSize
	}
	return defaultHeaderSize
}

// defaultHeaderSize is the HEADER_SIZE used when a Policy's caller has
// not set Config.HeaderSize. 256 matches the example scenarios of
// spec.md §8.
const defaultHeaderSize uint32 = 256

// restoreFromBackup triggers a swap back to UPDATE's BACKUP copy when
// BOOT fails verification, per spec.md §4.7 step 3's "if a previous-
// firmware BACKUP is available in UPDATE, trigger swap to restore".
func (p *Policy) restoreFromBackup(outcome *Outcome) error {
	if !p.hasAnyBackupFlag() {
		return util.FmtBootError(util.KindFatal, "no backup available in UPDATE")
	}
	return p.rearmAndRollback(outcome)
}

func (p *Policy) hasAnyBackupFlag() bool {
	n := p.Update.NumBodySectors()
	for i := uint32(0); i < n; i++ {
		flag, err := p.Update.ReadSectorFlag(i)
		if err == nil && flag == partition.FlagBackup {
			return true
		}
	}
	return false
}

// checkAntiRollback implements spec.md §4.7's optional compile-time
// anti-rollback check: VERSION of the booting image must not be older
// than the stored monotonic counter.
func (p *Policy) checkAntiRollback(img *container.Image) error {
	stored, err := p.Config.VersionCounter.Read()
	if err != nil {
		return err
	}

	version := uint32(0)
	if vtlv, ok := img.FindTlv(container.TagVersion); ok && len(vtlv.Value) >= 4 {
		version = leUint32(vtlv.Value)
	}

	if version < stored {
		return util.FmtBootError(util.KindFatal,
			"anti-rollback: image version %d older than stored version %d", version, stored)
	}
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
