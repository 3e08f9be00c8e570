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
	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/keystore"
	"secureboot.dev/bootloader/util"
)

// hashAlgFor maps the low byte of an IMAGE_TYPE TLV to the digest
// algorithm a signer used, per spec.md §4.2's algorithm agility table.
func hashAlgFor(imageType uint16) cryptohal.HashAlg {
	switch AlgorithmOf(imageType) {
	case 0x01, 0x02, 0x03: // ECDSA P-256/384/521
		return cryptohal.HashSHA256
	case 0x04, 0x05, 0x06: // RSA-2048/3072/4096
		return cryptohal.HashSHA256
	case 0x07: // Ed25519
		return cryptohal.HashSHA3_384
	default:
		return cryptohal.HashSHA256
	}
}

// VerifyIntegrity recomputes the image's digest over its header and
// payload and compares it against the DIGEST TLV (spec.md invariant I1).
// The value bytes of the DIGEST, SIGNATURE and SECONDARY_SIGNATURE TLVs
// are hashed as zeros, which is how they stand when a signer hashes the
// image built by Builder.Build before filling them in.
func VerifyIntegrity(img *Image, provider cryptohal.Provider) error {
	digestTlv, ok := img.FindTlv(TagDigest)
	if !ok {
		return util.FmtBootError(util.KindBadTLV, "image has no DIGEST TLV")
	}

	imageType := uint16(0)
	if tt, ok := img.FindTlv(TagImageType); ok && len(tt.Value) >= 2 {
		imageType = leUint16(tt.Value)
	}

	computed, err := computeDigest(img, provider, imageType)
	if err != nil {
		return err
	}

	if !cryptohal.ConstantTimeEqual(computed, digestTlv.Value) {
		return util.FmtBootError(util.KindHashMismatch,
			"image digest mismatch")
	}
	return nil
}

// headerOffsetBase returns the byte offset the header region (img.Raw)
// starts at within the addressing scheme valueOff was recorded in. The
// header always starts at offset 0 of a freshly parsed image, but this
// indirection keeps the zero-fill math in one place rather than
// duplicated at each call site.
func headerOffsetBase(img *Image) int {
	return 0
}

// VerifyAuthenticity resolves the image's PUBKEY_HINT against store,
// checks the resolved entry's permission mask against the image type
// (invariant I3), and verifies the SIGNATURE TLV over the same digest
// VerifyIntegrity computes (invariant I2). If the image is marked
// hybrid-signed (IMAGE_TYPE's ImageTypeFlagHybridSigned bit), the
// SECONDARY_SIGNATURE TLV must also verify against a second trusted key
// before the image is considered authentic, per spec.md §4.2's hybrid
// classical+PQ signing option.
func VerifyAuthenticity(img *Image, store *keystore.Store, provider cryptohal.Provider) error {
	hintTlv, ok := img.FindTlv(TagPubKeyHint)
	if !ok {
		return util.FmtBootError(util.KindBadTLV, "image has no PUBKEY_HINT TLV")
	}
	if len(hintTlv.Value) != keystore.HintSize {
		return util.FmtBootError(util.KindBadTLV,
			"PUBKEY_HINT TLV has wrong length: %d", len(hintTlv.Value))
	}
	var hint [keystore.HintSize]byte
	copy(hint[:], hintTlv.Value)

	entry, _, ok := store.FindByHint(hint)
	if !ok {
		return util.FmtBootError(util.KindNoTrustedKey,
			"no trusted key matches PUBKEY_HINT")
	}

	imageType := uint16(0)
	if tt, ok := img.FindTlv(TagImageType); ok && len(tt.Value) >= 2 {
		imageType = leUint16(tt.Value)
	}
	required := uint32(AlgorithmOf(imageType))
	if !entry.HasPermission(required) {
		return util.FmtBootError(util.KindPermissionDenied,
			"key does not have permission for image type 0x%02x", AlgorithmOf(imageType))
	}

	digest, err := computeDigest(img, provider, imageType)
	if err != nil {
		return err
	}

	sigTlv, ok := img.FindTlv(TagSignature)
	if !ok {
		return util.FmtBootError(util.KindBadTLV, "image has no SIGNATURE TLV")
	}
	ok, err = provider.Verify(entry.Algorithm, entry.PubKey, digest, sigTlv.Value)
	if err != nil {
		return err
	}
	if !ok {
		return util.FmtBootError(util.KindBadSignature, "primary signature does not verify")
	}

	if imageType&ImageTypeFlagHybridSigned == 0 {
		return nil
	}

	secTlv, ok := img.FindTlv(TagSecondarySignature)
	if !ok {
		return util.FmtBootError(util.KindBadTLV,
			"image marked hybrid-signed but has no SECONDARY_SIGNATURE TLV")
	}
	// The secondary signature must verify against an independent second
	// key (entry.SecondaryPubKey), not the primary key again - otherwise
	// a hybrid scheme's second factor is a no-op duplicate of the first.
	// A keystore entry that resolves by PUBKEY_HINT but was never
	// provisioned with a secondary key cannot satisfy a hybrid-signed
	// image at all.
	if len(entry.SecondaryPubKey) == 0 {
		return util.FmtBootError(util.KindNoTrustedKey,
			"image marked hybrid-signed but resolved key has no secondary key")
	}
	ok, err = provider.Verify(entry.SecondaryAlgorithm, entry.SecondaryPubKey, digest, secTlv.Value)
	if err != nil {
		return err
	}
	if !ok {
		return util.FmtBootError(util.KindBadSignature, "secondary signature does not verify")
	}

	return nil
}

func computeDigest(img *Image, provider cryptohal.Provider, imageType uint16) ([]byte, error) {
	if _, ok := img.FindTlv(TagDigest); !ok {
		return nil, util.FmtBootError(util.KindBadTLV, "image has no DIGEST TLV")
	}

	hasher, err := provider.NewHasher(hashAlgFor(imageType))
	if err != nil {
		return nil, err
	}

	headerCopy := append([]byte(nil), img.Raw...)
	for _, tag := range []uint16{TagDigest, TagSignature, TagSecondarySignature} {
		tlv, ok := img.FindTlv(tag)
		if !ok {
			continue
		}
		start := tlv.valueOff - headerOffsetBase(img)
		if start < 0 || start+len(tlv.Value) > len(headerCopy) {
			return nil, util.FmtBootError(util.KindFatal,
				"TLV 0x%04x offset bookkeeping inconsistent", tag)
		}
		for i := range tlv.Value {
			headerCopy[start+i] = 0
		}
	}

	hasher.Write(headerCopy)
	hasher.Write(img.Payload)
	return hasher.Sum(), nil
}
