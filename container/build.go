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

// Builder assembles a signed image, the host-side counterpart to
// Open/VerifyIntegrity/VerifyAuthenticity. It is grounded on the
// teacher's artifact/image ImageCreator (generateSigRsa/generateSigEc),
// generalized to any cryptohal.Algorithm/Provider pair rather than two
// hardcoded key types.
type Builder struct {
	HeaderSize uint32
	ImageType  uint16
	Version    uint32
	Timestamp  uint64
	DeviceID   uint32
	PubKeyHint [4]byte
}

type rawTlv struct {
	tag   uint16
	value []byte
}

// Build assembles the unsigned header + payload, leaving room for a
// zero-filled DIGEST TLV and an empty SIGNATURE TLV of sigLen bytes, so
// the caller can hash the result, fill in DIGEST, sign, and fill in
// SIGNATURE without re-laying-out the header. secondarySigLen is 0
// unless hybridSigning is requested.
func (b *Builder) Build(payload []byte, digestLen, sigLen, secondarySigLen uint32) ([]byte, error) {
	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], b.Version)

	var imgTypeBuf [2]byte
	binary.LittleEndian.PutUint16(imgTypeBuf[:], b.ImageType)

	tlvs := []rawTlv{
		{TagVersion, versionBuf[:]},
		{TagImageType, imgTypeBuf[:]},
	}

	if b.Timestamp != 0 {
		var tsBuf [8]byte
		binary.LittleEndian.PutUint64(tsBuf[:], b.Timestamp)
		tlvs = append(tlvs, rawTlv{TagTimestamp, tsBuf[:]})
	}
	if b.DeviceID != 0 {
		var devBuf [4]byte
		binary.LittleEndian.PutUint32(devBuf[:], b.DeviceID)
		tlvs = append(tlvs, rawTlv{TagDeviceID, devBuf[:]})
	}

	tlvs = append(tlvs, rawTlv{TagPubKeyHint, b.PubKeyHint[:]})
	tlvs = append(tlvs, rawTlv{TagDigest, make([]byte, digestLen)})
	tlvs = append(tlvs, rawTlv{TagSignature, make([]byte, sigLen)})
	if secondarySigLen > 0 {
		tlvs = append(tlvs, rawTlv{TagSecondarySignature, make([]byte, secondarySigLen)})
	}

	header := make([]byte, HeaderFixedSize, b.HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], ContainerMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))

	for _, t := range tlvs {
		var tagBuf, lenBuf [2]byte
		binary.LittleEndian.PutUint16(tagBuf[:], t.tag)
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(t.value)))
		header = append(header, tagBuf[:]...)
		header = append(header, lenBuf[:]...)
		header = append(header, t.value...)
		for len(header)%tlvAlign != 0 {
			header = append(header, 0xFF)
		}
	}

	if uint32(len(header)) > b.HeaderSize {
		return nil, util.FmtBootError(util.KindBadHeader,
			"assembled TLVs (%d bytes) exceed configured header_size %d",
			len(header), b.HeaderSize)
	}
	for uint32(len(header)) < b.HeaderSize {
		header = append(header, 0xFF)
	}

	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out, nil
}

// FillTlv overwrites the value bytes of an already-built image's tag
// TLV in place - used to fill in DIGEST after hashing and SIGNATURE
// after signing, without re-running Build.
func FillTlv(imageBytes []byte, headerSize uint32, tag uint16, value []byte) error {
	tlvs, err := parseTlvs(imageBytes[HeaderFixedSize:headerSize], HeaderFixedSize)
	if err != nil {
		return err
	}
	for _, t := range tlvs {
		if t.Tag != tag {
			continue
		}
		if len(t.Value) != len(value) {
			return util.FmtBootError(util.KindBadTLV,
				"FillTlv: value length mismatch for tag 0x%04x: have %d want %d",
				tag, len(value), len(t.Value))
		}
		copy(imageBytes[t.valueOff:t.valueOff+len(value)], value)
		return nil
	}
	return util.FmtBootError(util.KindBadTLV, "FillTlv: tag 0x%04x not found", tag)
}
