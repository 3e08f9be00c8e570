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
	"encoding/binary"

	"secureboot.dev/bootloader/partition"
)

// ScratchMagic identifies a valid scratch header, spec.md §6.3. Treated
// as a fixed contract value per spec.md §9.
const ScratchMagic uint32 = 0x53435248 // "SCRH" as a big-endian literal; stored little-endian as "HRCS"

// scratchHeaderSize is the fixed header footprint before the copied
// sector payload begins at offset 16, per spec.md §6.3.
const scratchHeaderSize = 16

// scratchHeader is the decoded form of the layout in spec.md §6.3:
//
//	offset 0..3   SCRATCH_MAGIC
//	offset 4..5   src_partition (0 = BOOT, 1 = UPDATE)
//	offset 6..7   reserved
//	offset 8..11  src_sector_index (u32 LE)
//	offset 16..   copied sector payload
type scratchHeader struct {
	valid     bool
	srcRole   partition.Role
	srcSector uint32
}

func (e *SoftwareEngine) scratchAddr(offset uint32) uint32 {
	return e.Scratch.Offset + offset
}

func (e *SoftwareEngine) readScratchHeader() (scratchHeader, error) {
	buf := make([]byte, scratchHeaderSize)
	if err := e.ScratchFlash.Read(e.scratchAddr(0), buf); err != nil {
		return scratchHeader{}, err
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != ScratchMagic {
		return scratchHeader{}, nil
	}

	srcVal := binary.LittleEndian.Uint16(buf[4:6])
	var role partition.Role
	switch srcVal {
	case 0:
		role = partition.RoleBoot
	case 1:
		role = partition.RoleUpdate
	default:
		return scratchHeader{}, nil
	}

	idx := binary.LittleEndian.Uint32(buf[8:12])
	return scratchHeader{valid: true, srcRole: role, srcSector: idx}, nil
}

func (e *SoftwareEngine) writeScratchHeader(src partition.Role, idx uint32) error {
	buf := make([]byte, scratchHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], ScratchMagic)
	var srcVal uint16
	if src == partition.RoleUpdate {
		srcVal = 1
	}
	binary.LittleEndian.PutUint16(buf[4:6], srcVal)
	binary.LittleEndian.PutUint32(buf[8:12], idx)
	if err := e.ScratchFlash.TryProgram(e.scratchAddr(0), buf); err != nil {
		return err
	}
	return e.ScratchFlash.Write(e.scratchAddr(0), buf)
}

// readScratchPayload returns the sectorSize bytes of copied data
// following the header.
func (e *SoftwareEngine) readScratchPayload(sectorSize uint32) ([]byte, error) {
	buf := make([]byte, sectorSize)
	if err := e.ScratchFlash.Read(e.scratchAddr(scratchHeaderSize), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *SoftwareEngine) writeScratchPayload(data []byte) error {
	if err := e.ScratchFlash.TryProgram(e.scratchAddr(scratchHeaderSize), data); err != nil {
		return err
	}
	return e.ScratchFlash.Write(e.scratchAddr(scratchHeaderSize), data)
}

// eraseScratch erases the whole scratch sector, invalidating both the
// header and the payload it holds - spec.md §4.6 step 4, "Clear
// scratch".
func (e *SoftwareEngine) eraseScratch() error {
	return e.ScratchFlash.Erase(e.Scratch.Offset, e.Scratch.SectorSize)
}
