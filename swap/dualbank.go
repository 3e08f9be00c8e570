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

package swap

import (
	"secureboot.dev/bootloader/hal"
	"secureboot.dev/bootloader/partition"
)

// DualBankEngine replaces the sector-by-sector software algorithm with
// a single call into a target's hardware bank-swap primitive, per
// spec.md §9: "some HALs expose hal_flash_dualbank_swap() ... this
// should be an alternative implementation of the swap-engine interface,
// not a conditional branch inside the generic engine." The hardware is
// trusted to provide the same crash-consistency guarantee the software
// engine builds out of scratch + flags; this engine only has to update
// BOOT's trailer state afterward to rejoin the common TESTING/SUCCESS/
// rollback flow in bootpolicy.
type DualBankEngine struct {
	Boot  *partition.Partition
	Flash hal.DualBankFlash
}

var _ Engine = (*DualBankEngine)(nil)

func (e *DualBankEngine) Run() error {
	if err := e.Flash.DualBankSwap(); err != nil {
		return err
	}
	return e.Boot.WriteStateThroughErase(partition.StateTesting)
}

// Rearm is a no-op: the hardware bank-swap primitive does not expose
// per-sector progress flags for software to get stale, so there is
// nothing to reset before calling Run again to swap back.
func (e *DualBankEngine) Rearm() error {
	return nil
}
