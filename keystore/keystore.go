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

// Package keystore holds the compile-time table of trusted public keys
// described in spec.md §3.3/§4.4: read-only data, created by the signing
// tool, consulted by container.VerifyAuthenticity to resolve a
// PUBKEY_HINT TLV to a public key and permission mask. The same hint
// computation (sha256(pubkey)[:4]) the teacher's signing code uses in
// artifact/image/key.go (RawKeyHash) is kept here, inverted from "which
// hash do I embed" to "which entry does this hash name".
package keystore

import (
	"crypto/sha256"

	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/util"
)

// HintSize is the number of leading bytes of sha256(pubkey) stored in
// an image's PUBKEY_HINT TLV and compared against each keystore entry.
const HintSize = 4

// Entry is one compile-time trusted key, per spec.md §3.3.
type Entry struct {
	Algorithm      cryptohal.Algorithm
	PubKeyHash     [HintSize]byte
	PubKey         []byte
	PermissionMask uint32

	// SecondaryAlgorithm and SecondaryPubKey name the independent second
	// factor for an image built under spec.md §4.2's hybrid
	// classical+PQ signing option (IMAGE_TYPE's ImageTypeFlagHybridSigned
	// bit). Left zero/nil for entries that never sign hybrid images;
	// container.VerifyAuthenticity treats a hybrid-signed image whose
	// resolved entry has no SecondaryPubKey as untrusted rather than
	// falling back to re-checking the primary key, since that would
	// make the second signature redundant instead of an independent
	// factor.
	SecondaryAlgorithm cryptohal.Algorithm
	SecondaryPubKey    []byte
}

// KeyHash computes the PUBKEY_HINT value for pubKey, the same
// computation a signing tool performs when embedding a hint TLV into an
// image (artifact/image/key.go's RawKeyHash).
func KeyHash(pubKey []byte) [HintSize]byte {
	sum := sha256.Sum256(pubKey)
	var out [HintSize]byte
	copy(out[:], sum[:HintSize])
	return out
}

// Store is a read-only, fixed-size table of trusted keys plus an
// optional OTP-backed revocation bitmap (spec.md §4.4: "a separate
// OTP-stored bitmap of revoked indices is consulted and masked out of
// find_by_hint").
type Store struct {
	entries  []Entry
	revoked  map[int]bool
}

// New builds a Store from a fixed entry table. N is typically 1-4 per
// spec.md §4.4, but up to 16 is supported per Design Notes'
// keystore_size option; New does not itself enforce an upper bound -
// that is a build-time config concern (config.BootConfig.KeystoreSize),
// not a runtime invariant.
func New(entries []Entry) *Store {
	return &Store{entries: append([]Entry(nil), entries...)}
}

func (s *Store) NumKeys() int {
	return len(s.entries)
}

func (s *Store) Key(i int) (Entry, error) {
	if i < 0 || i >= len(s.entries) {
		return Entry{}, util.FmtBootError(util.KindFatal,
			"keystore index out of range: %d", i)
	}
	return s.entries[i], nil
}

// Revoke marks keystore index i as revoked; FindByHint will no longer
// return it. Intended to be driven by an OTP-stored revocation bitmap
// read once at boot.
func (s *Store) Revoke(i int) {
	if s.revoked == nil {
		s.revoked = map[int]bool{}
	}
	s.revoked[i] = true
}

func (s *Store) IsRevoked(i int) bool {
	return s.revoked != nil && s.revoked[i]
}

// FindByHint performs the linear scan spec.md §4.4 calls for (N is
// small, 1-16, so this is not a performance concern) and returns the
// first non-revoked entry whose PubKeyHash matches hint.
func (s *Store) FindByHint(hint [HintSize]byte) (Entry, int, bool) {
	for i, e := range s.entries {
		if s.IsRevoked(i) {
			continue
		}
		if e.PubKeyHash == hint {
			return e, i, true
		}
	}
	return Entry{}, -1, false
}

// HasPermission reports whether entry's permission mask includes every
// bit set in required - spec.md invariant I3 ("the keystore entry
// identified by PUBKEY_HINT must have its permission mask include
// IMAGE_TYPE & 0xFF").
func (e Entry) HasPermission(required uint32) bool {
	return e.PermissionMask&required == required
}
