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

// Package delta reconstructs a full image from a base image plus a
// BSDIFF-like patch script, per spec.md §4.9: used when an image's
// IMAGE_TYPE carries container.ImageTypeFlagDelta, with DELTA_BASE
// naming the digest of the base image the patch applies to. The
// reconstructed bytes are emitted in caller-sized chunks so the swap
// engine can consume them without delta needing its own notion of
// flash or scratch.
package delta

import (
	"encoding/binary"

	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/util"
)

// Opcode identifies one patch-script instruction. Numeric values are an
// internal contract between the host-side delta generator and this
// reconstructor (spec.md names no on-medium format for delta, unlike
// the container and trailer formats it does pin down bit-exactly), so
// they are assigned once here rather than re-derived per use.
type Opcode uint8

const (
	OpCopyFromBase Opcode = 1
	OpLiteral      Opcode = 2
	OpEnd          Opcode = 0xFF
)

// Instruction is one decoded patch-script entry: either "copy Length
// bytes from the base image starting at BaseOffset" or "emit Literal
// verbatim".
type Instruction struct {
	Op         Opcode
	BaseOffset uint32
	Length     uint32
	Literal    []byte
}

// Sink receives reconstructed output in caller-chosen chunk sizes,
// typically one swap-scratch sector at a time, so the swap engine can
// be reused to install the result exactly as it would a flat image
// (spec.md §4.9: "reusing the swap engine thereafter").
type Sink interface {
	Write(chunk []byte) error
}

// VerifyBase checks that hash(base) matches deltaBaseDigest (the value
// carried in the image's DELTA_BASE TLV), per spec.md §4.9's
// requirement that the patch names its expected base by digest.
func VerifyBase(base []byte, deltaBaseDigest []byte, provider cryptohal.Provider, hashAlg cryptohal.HashAlg) error {
	hasher, err := provider.NewHasher(hashAlg)
	if err != nil {
		return err
	}
	hasher.Write(base)
	computed := hasher.Sum()

	if !cryptohal.ConstantTimeEqual(computed, deltaBaseDigest) {
		return util.FmtBootError(util.KindHashMismatch,
			"delta base image does not match DELTA_BASE digest")
	}
	return nil
}

// Reconstruct walks patchScript, a flat sequence of wire-encoded
// Instructions, applying each against base and streaming the result
// through sink in chunkSize-sized pieces (the final chunk may be
// shorter). Patch bytes are not separately signed: spec.md §4.9 notes
// they are covered by the container signature over the whole payload,
// so Reconstruct performs no authentication of its own - the caller is
// expected to have already run container.VerifyIntegrity/
// VerifyAuthenticity over the patch image before calling this.
func Reconstruct(base []byte, patchScript []byte, chunkSize uint32, sink Sink) error {
	var buf []byte
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := sink.Write(buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}

	emit := func(data []byte) error {
		for len(data) > 0 {
			room := int(chunkSize) - len(buf)
			if room <= 0 {
				if err := flush(); err != nil {
					return err
				}
				room = int(chunkSize)
			}
			n := len(data)
			if n > room {
				n = room
			}
			buf = append(buf, data[:n]...)
			data = data[n:]
			if len(buf) == int(chunkSize) {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	}

	instrs, err := parseInstructions(patchScript)
	if err != nil {
		return err
	}

	for _, ins := range instrs {
		switch ins.Op {
		case OpCopyFromBase:
			if ins.BaseOffset+ins.Length > uint32(len(base)) {
				return util.FmtBootError(util.KindBadHeader,
					"delta copy instruction reads past end of base image")
			}
			if err := emit(base[ins.BaseOffset : ins.BaseOffset+ins.Length]); err != nil {
				return err
			}
		case OpLiteral:
			if err := emit(ins.Literal); err != nil {
				return err
			}
		}
	}

	return flush()
}

// parseInstructions scans patchScript with a bounds-checked cursor, in
// the same style as container.parseTlvs: each instruction is
// { op: u8, reserved: [3]u8, length: u32 LE, [base_offset: u32 LE] },
// followed by Length literal bytes for OpLiteral. Scanning stops at
// OpEnd or end of buffer.
func parseInstructions(patchScript []byte) ([]Instruction, error) {
	var out []Instruction
	off := 0

	for off < len(patchScript) {
		if off+1 > len(patchScript) {
			break
		}
		op := Opcode(patchScript[off])
		if op == OpEnd {
			break
		}

		switch op {
		case OpCopyFromBase:
			if off+12 > len(patchScript) {
				return nil, util.FmtBootError(util.KindBadHeader,
					"truncated delta copy instruction at offset %d", off)
			}
			length := binary.LittleEndian.Uint32(patchScript[off+4 : off+8])
			baseOff := binary.LittleEndian.Uint32(patchScript[off+8 : off+12])
			out = append(out, Instruction{Op: OpCopyFromBase, Length: length, BaseOffset: baseOff})
			off += 12

		case OpLiteral:
			if off+8 > len(patchScript) {
				return nil, util.FmtBootError(util.KindBadHeader,
					"truncated delta literal instruction at offset %d", off)
			}
			length := binary.LittleEndian.Uint32(patchScript[off+4 : off+8])
			litStart := off + 8
			if uint32(litStart)+length > uint32(len(patchScript)) {
				return nil, util.FmtBootError(util.KindBadHeader,
					"delta literal instruction overruns patch script")
			}
			out = append(out, Instruction{
				Op:      OpLiteral,
				Length:  length,
				Literal: patchScript[litStart : uint32(litStart)+length],
			})
			off = litStart + int(length)

		default:
			return nil, util.FmtBootError(util.KindBadHeader,
				"unknown delta opcode 0x%02x at offset %d", op, off)
		}
	}

	return out, nil
}
