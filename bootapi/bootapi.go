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

// Package bootapi is the thin, synchronous surface spec.md §4.8/§6.4
// exposes to application code - current/update version queries,
// success/update_trigger, and the container.Open/Verify wrappers - all
// as methods on a BootContext rather than free functions over global
// state, per spec.md §9's "replace global mutable state with an
// explicit BootContext value threaded through core operations".
package bootapi

import (
	"secureboot.dev/bootloader/container"
	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/keystore"
	"secureboot.dev/bootloader/partition"
	"secureboot.dev/bootloader/util"
)

// BootContext is the single value the application holds to interact
// with the bootloader's public surface after it has been handed
// control. It is not reentrant and not safe for concurrent use from
// more than one caller, matching spec.md §5's "none of the core APIs
// are reentrant".
type BootContext struct {
	Boot       *partition.Partition
	Update     *partition.Partition
	Store      *keystore.Store
	Crypto     cryptohal.Provider
	HeaderSize uint32
}

// CurrentFirmwareVersion returns BOOT's VERSION, per spec.md §6.4.
func (c *BootContext) CurrentFirmwareVersion() (uint32, error) {
	return c.versionOf(c.Boot)
}

// UpdateFirmwareVersion returns UPDATE's VERSION, or 0 if UPDATE has no
// valid container magic, per spec.md §6.4.
func (c *BootContext) UpdateFirmwareVersion() uint32 {
	v, err := c.versionOf(c.Update)
	if err != nil {
		return 0
	}
	return v
}

func (c *BootContext) versionOf(p *partition.Partition) (uint32, error) {
	img, err := c.OpenImage(p)
	if err != nil {
		return 0, err
	}
	vtlv, ok := img.FindTlv(container.TagVersion)
	if !ok || len(vtlv.Value) < 4 {
		return 0, util.FmtBootError(util.KindBadTLV, "image has no VERSION TLV")
	}
	return leUint32(vtlv.Value), nil
}

// GetPartitionState returns the trailer state of p, or StateNew if the
// trailer magic is absent, per spec.md §6.4's get_partition_state.
func (c *BootContext) GetPartitionState(p *partition.Partition) (partition.State, error) {
	state, _, err := p.ReadState()
	return state, err
}

// Success writes BOOT.state = SUCCESS. Idempotent: calling it again
// when BOOT is already SUCCESS returns without writing, per spec.md §8
// property 4.
func (c *BootContext) Success() error {
	state, _, err := c.Boot.ReadState()
	if err != nil {
		return err
	}
	if state == partition.StateSuccess {
		return nil
	}
	return c.Boot.WriteState(partition.StateSuccess)
}

// UpdateTrigger writes UPDATE.state = UPDATING so the next reset runs
// the swap engine, per spec.md §6.4. Idempotent for the same reason as
// Success.
func (c *BootContext) UpdateTrigger() error {
	state, _, err := c.Update.ReadState()
	if err != nil {
		return err
	}
	if state == partition.StateUpdating {
		return nil
	}
	if state != partition.StateNew {
		// UPDATE still carries a completed cycle's leftovers:
		// bootpolicy.consumeUpdateTrigger leaves it at SUCCESS once a
		// prior swap finished, with both trailers' sector flags still at
		// UPDATED/BACKUP. Writing UPDATING directly would violate
		// invariant I4 (SUCCESS -> UPDATING needs a 0->1 bit), and
		// leaving the stale flags in place would make the swap engine
		// treat the image the caller just flashed into UPDATE's body as
		// already swapped. Erase both trailers so the next swap runs
		// fresh over it.
		if err := c.Boot.EraseTrailer(); err != nil {
			return err
		}
		if err := c.Update.EraseTrailer(); err != nil {
			return err
		}
	}
	return c.Update.WriteState(partition.StateUpdating)
}

// OpenImage reads p's header+payload and parses it, per spec.md §4.3's
// open_image wrapper.
func (c *BootContext) OpenImage(p *partition.Partition) (*container.Image, error) {
	raw := make([]byte, p.Area.BodySize())
	if err := p.Flash.Read(p.Area.Offset, raw); err != nil {
		return nil, err
	}
	return container.Open(raw, c.HeaderSize, p.Area.BodySize())
}

// VerifyIntegrity wraps container.VerifyIntegrity with this context's
// configured crypto provider.
func (c *BootContext) VerifyIntegrity(img *container.Image) error {
	return container.VerifyIntegrity(img, c.Crypto)
}

// VerifyAuthenticity wraps container.VerifyAuthenticity with this
// context's configured keystore and crypto provider.
func (c *BootContext) VerifyAuthenticity(img *container.Image) error {
	return container.VerifyAuthenticity(img, c.Store, c.Crypto)
}

// ErasePartition erases p's entire body in one call, per spec.md §4.8's
// erase_partition convenience wrapper. The trailer's own sector is
// included, so a subsequent ReadState reports StateNew/trailerValid ==
// false.
func (c *BootContext) ErasePartition(p *partition.Partition) error {
	return p.Flash.Erase(p.Area.Offset, p.Area.Size)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
