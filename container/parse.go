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

package container

import (
	"encoding/binary"

	"secureboot.dev/bootloader/util"
)

// Open parses an image whose header starts at the beginning of
// partBytes (a borrowed slice covering at least headerSize+payload
// bytes of a partition's flash contents), per spec.md §4.3's
// open_image. partSize is the usable size of the partition excluding
// its trailer, used to bounds-check IMAGE_SIZE_LE.
func Open(partBytes []byte, headerSize uint32, partSize uint32) (*Image, error) {
	if uint32(len(partBytes)) < headerSize {
		return nil, badHeader("image header truncated: have %d bytes, need %d",
			len(partBytes), headerSize)
	}
	if len(partBytes) < HeaderFixedSize {
		return nil, badHeader("image too small for fixed header")
	}

	magic := binary.LittleEndian.Uint32(partBytes[0:4])
	if magic != ContainerMagic {
		return nil, util.FmtBootError(util.KindBadMagic,
			"bad image magic: got 0x%08x, want 0x%08x", magic, ContainerMagic)
	}

	imgSize := binary.LittleEndian.Uint32(partBytes[4:8])
	if imgSize > partSize-headerSize {
		return nil, badHeader(
			"image size %d exceeds partition capacity (partSize=%d headerSize=%d)",
			imgSize, partSize, headerSize)
	}
	if uint32(len(partBytes)) < headerSize+imgSize {
		return nil, badHeader("image payload truncated: have %d bytes, need %d",
			len(partBytes), headerSize+imgSize)
	}

	tlvs, err := parseTlvs(partBytes[HeaderFixedSize:headerSize], HeaderFixedSize)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Raw:        partBytes[:headerSize],
		Payload:    partBytes[headerSize : headerSize+imgSize],
		HeaderSize: headerSize,
		PayloadLen: imgSize,
		Tlvs:       tlvs,
	}
	return img, nil
}

// OpenAddress parses an image the same way as Open but without any
// partition-role lookup, per spec.md §4.3's open_image_address (used by
// loader-style configurations that address an image directly).
func OpenAddress(imageBytes []byte, headerSize uint32, maxSize uint32) (*Image, error) {
	return Open(imageBytes, headerSize, maxSize)
}

// parseTlvs scans the TLV area (everything after the fixed 8-byte
// header, up to headerSize) with an explicit bounds-checked cursor; no
// TLV may cross the header boundary (spec.md §3.1).
func parseTlvs(area []byte, baseOffset uint32) ([]Tlv, error) {
	var tlvs []Tlv

	off := 0
	for {
		if off+TlvHeaderSize > len(area) {
			// Ran out of room before an explicit end marker: the rest
			// must be 0xFF padding, which is always acceptable.
			break
		}

		tag := leUint16(area[off : off+2])
		if tag == TagEndOfHeader {
			break
		}

		length := leUint16(area[off+2 : off+4])
		valOff := off + TlvHeaderSize
		if valOff+int(length) > len(area) {
			return nil, badHeader(
				"TLV 0x%04x at offset %d overruns header (len=%d)",
				tag, baseOffset+uint32(off), length)
		}

		value := area[valOff : valOff+int(length)]

		if tag != 0xFFFF && !isKnownTag(tag) {
			if IsTagCritical(tag) {
				return nil, badHeaderTLV(
					"unknown critical TLV tag 0x%04x at offset %d",
					tag, baseOffset+uint32(off))
			}
			// Unknown non-critical tag: skip it, per spec.md §3.1.
		} else {
			tlvs = append(tlvs, Tlv{
				Tag:      tag,
				Value:    value,
				valueOff: int(baseOffset) + valOff,
			})
		}

		padded := padTo(TlvHeaderSize+int(length), tlvAlign)
		off += padded
	}

	return tlvs, nil
}

func isKnownTag(tag uint16) bool {
	switch tag {
	case TagVersion, TagTimestamp, TagImageType, TagDeviceID, TagDeltaBase,
		TagPubKeyHint, TagDigest, TagSignature, TagSecondarySignature:
		return true
	default:
		return false
	}
}

func padTo(n int, align int) int {
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func badHeaderTLV(format string, args ...interface{}) error {
	return util.FmtBootError(util.KindBadTLV, format, args...)
}
