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

package partition

import (
	"encoding/binary"
)

// TrailerMagic is the fixed 4-byte literal marking a valid trailer,
// distinct from container.ContainerMagic per spec.md §3.2. Treated as a
// fixed contract value per spec.md §9.
const TrailerMagic uint32 = 0x54524c42 // "TRLB" as a big-endian literal; stored little-endian as "BLRT"

// NumBodySectors is N in spec.md §6.2: the sector count of
// PARTITION_BODY, i.e. everything before the trailer's own sector.
func (p *Partition) NumBodySectors() uint32 {
	return p.Area.BodySize() / p.Area.SectorSize
}

// sectorFlagsSize is ceil(N/2) bytes: one nibble per sector, packed two
// to a byte, little-endian within the byte (low nibble = even index).
func (p *Partition) sectorFlagsSize() uint32 {
	n := p.NumBodySectors()
	return (n + 1) / 2
}

// trailerSize is the total trailer footprint: TRAILER_MAGIC(4) +
// STATE(1) + SECTOR_FLAGS(ceil(N/2)).
func (p *Partition) trailerSize() uint32 {
	return 4 + 1 + p.sectorFlagsSize()
}

// magicAddr, stateAddr, flagsBaseAddr locate the trailer fields by
// counting backwards from the end of the partition, per spec.md §6.2.
func (p *Partition) magicAddr() uint32 {
	return p.addr(p.Area.Size - 4)
}

func (p *Partition) stateAddr() uint32 {
	return p.addr(p.Area.Size - 5)
}

func (p *Partition) flagsBaseAddr() uint32 {
	return p.addr(p.Area.Size - 5 - p.sectorFlagsSize())
}

// ReadState reads the trailer's STATE byte. If TRAILER_MAGIC does not
// match, the trailer is reported as absent: state is StateNew and
// trailerValid is false, per spec.md §4.5.
func (p *Partition) ReadState() (state State, trailerValid bool, err error) {
	var magicBuf [4]byte
	if err := p.Flash.Read(p.magicAddr(), magicBuf[:]); err != nil {
		return StateNew, false, err
	}
	if binary.LittleEndian.Uint32(magicBuf[:]) != TrailerMagic {
		return StateNew, false, nil
	}

	var stateBuf [1]byte
	if err := p.Flash.Read(p.stateAddr(), stateBuf[:]); err != nil {
		return StateNew, false, err
	}
	return State(stateBuf[0]), true, nil
}

// WriteState enforces the monotonicity rule of invariant I4: the new
// byte is composed as (old & new); if that composed value does not
// equal the intended new state, the transition would require setting a
// bit from 0 to 1 and a KindTransientFlash error is returned without
// writing (WriteStateThroughErase is the variant that erases the
// trailer's containing sector first). Like WriteSectorFlag, the STATE
// byte is programmed as part of its whole write-granularity word.
func (p *Partition) WriteState(newState State) error {
	old, valid, err := p.ReadState()
	if err != nil {
		return err
	}
	if !valid {
		old = StateNew
	}

	if _, ok := composeMonotonic(byte(old), byte(newState)); !ok {
		return badFlash("state transition %s -> %s requires erase", old, newState)
	}

	addr := p.stateAddr()
	gran := p.Flash.WriteGranularity(addr)
	if gran == 0 {
		gran = 1
	}
	wordAddr := addr - (addr % gran)
	word := make([]byte, gran)
	if err := p.Flash.Read(wordAddr, word); err != nil {
		return err
	}
	word[addr-wordAddr] = byte(newState)
	if err := p.Flash.TryProgram(wordAddr, word); err != nil {
		return err
	}
	if err := p.Flash.Write(wordAddr, word); err != nil {
		return err
	}
	return p.writeTrailerMagicIfNeeded()
}

// trailerSectorAddr is the start of the trailer's containing sector,
// i.e. everything from BodySize() to the end of the area.
func (p *Partition) trailerSectorAddr() uint32 {
	return p.addr(p.Area.BodySize())
}

// trailerFlagsSnapshot returns the currently-programmed SECTOR_FLAGS
// bytes, widened at the front to start on a write-granularity boundary,
// together with that start address, for WriteStateThroughErase to
// restore after an erase.
func (p *Partition) trailerFlagsSnapshot() (uint32, []byte, error) {
	base := p.flagsBaseAddr()
	gran := p.Flash.WriteGranularity(base)
	if gran == 0 {
		gran = 1
	}
	start := base - (base % gran)
	buf := make([]byte, p.stateAddr()-start)
	if err := p.Flash.Read(start, buf); err != nil {
		return 0, nil, err
	}
	return start, buf, nil
}

// WriteStateThroughErase writes newState like WriteState, but where
// invariant I4 would reject the transition as needing a 0->1 bit flip
// (e.g. the swap engine re-finalizing BOOT from SUCCESS back to
// TESTING when a confirmed image is swapped out again), it first backs
// up the already-committed SECTOR_FLAGS, erases the trailer's
// containing sector, and restores them before programming newState -
// the "back up (§4.6) and erase" half of I4, applied to the one field
// in the shared trailer sector that must never lose already-recorded
// per-sector swap progress.
func (p *Partition) WriteStateThroughErase(newState State) error {
	old, valid, err := p.ReadState()
	if err != nil {
		return err
	}
	if valid {
		if _, ok := composeMonotonic(byte(old), byte(newState)); !ok {
			flagsAddr, flags, err := p.trailerFlagsSnapshot()
			if err != nil {
				return err
			}
			if err := p.Flash.Erase(p.trailerSectorAddr(), p.Area.SectorSize); err != nil {
				return err
			}
			if err := p.Flash.TryProgram(flagsAddr, flags); err != nil {
				return err
			}
			if err := p.Flash.Write(flagsAddr, flags); err != nil {
				return err
			}
		}
	}
	return p.WriteState(newState)
}

// EraseTrailer erases the trailer's containing sector wholesale,
// resetting STATE to NEW (trailer reported absent) and every
// SECTOR_FLAGS nibble to NEW. Unlike WriteStateThroughErase, this
// deliberately discards sector-flag progress: it is the re-arming step
// a caller takes before starting a genuinely fresh pass over a
// partition pair that a previous swap already fully completed (see
// swap.SoftwareEngine.Rearm), where UPDATED/BACKUP flags must stop
// looking like "already done" so the next pass actually moves data.
func (p *Partition) EraseTrailer() error {
	return p.Flash.Erase(p.trailerSectorAddr(), p.Area.SectorSize)
}

// writeTrailerMagicIfNeeded programs TRAILER_MAGIC the first time a
// state is written to a freshly erased (trailer_valid == false)
// trailer; once the magic bytes match it returns without programming
// anything. The magic is checked with TryProgram and then written, like
// every other trailer write.
func (p *Partition) writeTrailerMagicIfNeeded() error {
	var magicBuf [4]byte
	if err := p.Flash.Read(p.magicAddr(), magicBuf[:]); err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(magicBuf[:]) == TrailerMagic {
		return nil
	}
	binary.LittleEndian.PutUint32(magicBuf[:], TrailerMagic)
	if err := p.Flash.TryProgram(p.magicAddr(), magicBuf[:]); err != nil {
		return err
	}
	return p.Flash.Write(p.magicAddr(), magicBuf[:])
}

// ReadSectorFlag reads the 4-bit flag for body sector index i.
func (p *Partition) ReadSectorFlag(i uint32) (SectorFlag, error) {
	if i >= p.NumBodySectors() {
		return 0, badFlash("sector index %d out of range (N=%d)", i, p.NumBodySectors())
	}
	byteAddr := p.flagsBaseAddr() + i/2
	var buf [1]byte
	if err := p.Flash.Read(byteAddr, buf[:]); err != nil {
		return 0, err
	}
	if i%2 == 0 {
		return SectorFlag(buf[0] & 0x0F), nil
	}
	return SectorFlag((buf[0] >> 4) & 0x0F), nil
}

// WriteSectorFlag writes the 4-bit flag for body sector index i,
// enforcing the same monotonic-AND rule as WriteState. Because a
// nibble cannot be programmed in isolation on targets whose write
// granularity exceeds one byte, the whole containing write-granularity
// word is read, the target nibble is assembled into it, and the word
// is written back - this is the Design Notes' "pre-compute the
// containing write-granularity word" rule, generalized from per-byte
// nibble packing to arbitrary granularity.
func (p *Partition) WriteSectorFlag(i uint32, newFlag SectorFlag) error {
	if i >= p.NumBodySectors() {
		return badFlash("sector index %d out of range (N=%d)", i, p.NumBodySectors())
	}

	byteAddr := p.flagsBaseAddr() + i/2
	gran := p.Flash.WriteGranularity(byteAddr)
	if gran == 0 {
		gran = 1
	}
	wordAddr := byteAddr - (byteAddr % gran)
	word := make([]byte, gran)
	if err := p.Flash.Read(wordAddr, word); err != nil {
		return err
	}

	targetByteIdx := byteAddr - wordAddr
	oldByte := word[targetByteIdx]

	var oldNibble, newNibbleVal byte
	var assembled byte
	if i%2 == 0 {
		oldNibble = oldByte & 0x0F
		newNibbleVal = byte(newFlag) & 0x0F
		assembled = (oldByte & 0xF0) | newNibbleVal
	} else {
		oldNibble = (oldByte >> 4) & 0x0F
		newNibbleVal = byte(newFlag) & 0x0F
		assembled = (oldByte & 0x0F) | (newNibbleVal << 4)
	}

	if _, ok := composeMonotonic(oldNibble, newNibbleVal); !ok {
		return badFlash("sector %d flag transition %s -> %s requires erase",
			i, SectorFlag(oldNibble), newFlag)
	}

	word[targetByteIdx] = assembled
	if err := p.Flash.TryProgram(wordAddr, word); err != nil {
		return err
	}
	return p.Flash.Write(wordAddr, word)
}
