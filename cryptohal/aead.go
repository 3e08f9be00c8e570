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

package cryptohal

import (
	"crypto/aes"
	"crypto/cipher"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"golang.org/x/crypto/chacha20poly1305"

	"secureboot.dev/bootloader/util"
)

// EncryptionMode identifies the optional AEAD/stream cipher used to
// protect an encrypted-update payload, per spec.md §4.2 ("optional AEAD
// for encrypted-update") and Design Notes' `encryption` config option.
type EncryptionMode uint8

const (
	EncryptionNone EncryptionMode = iota
	EncryptionAESCTR
	EncryptionChaCha20
)

// StreamCipher produces a keystream XORed with the payload, used for
// the aes-ctr option. This mirrors the teacher's own
// artifact/image/create.go content-encryption loop (AES-CTR with an
// all-zero nonce, since each image's key is one-time-use), generalized
// to an interface so the AEAD option can sit alongside it.
type StreamCipher interface {
	XORKeyStream(dst, src []byte)
}

// NewAESCTRStream returns a StreamCipher for AES-CTR content encryption
// under key, with the given 16-byte nonce/IV.
func NewAESCTRStream(key []byte, nonce []byte) (StreamCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, util.FmtChildBootError(util.KindFatal, err,
			"failed to create AES-CTR cipher")
	}
	return cipher.NewCTR(block, nonce), nil
}

// AEAD wraps an authenticated cipher for the chacha20 encryption option.
type AEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// NewChaCha20Poly1305 returns an AEAD for EncryptionMode == chacha20,
// backed by golang.org/x/crypto/chacha20poly1305.
func NewChaCha20Poly1305(key []byte) (AEAD, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, util.FmtChildBootError(util.KindFatal, err,
			"failed to create ChaCha20-Poly1305 AEAD")
	}
	return aead, nil
}

// WrapContentKey wraps a one-time-use AES-CTR content-encryption key
// under a 16/24/32-byte key-encryption key, per RFC 3394, the same
// construction the teacher's signing tool uses to protect a
// per-image encryption key at rest (artifact/image/key.go's
// parseEncKeyBase64). This is host-tooling only: the target only ever
// unwraps a key it already has plaintext access to via its own secure
// storage, it never wraps one.
func WrapContentKey(kek, contentKey []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, util.FmtChildBootError(util.KindFatal, err,
			"failed to create key-wrap cipher")
	}
	wrapped, err := keywrap.Wrap(block, contentKey)
	if err != nil {
		return nil, util.FmtChildBootError(util.KindFatal, err,
			"failed to wrap content key")
	}
	return wrapped, nil
}

// UnwrapContentKey recovers a wrapped content-encryption key given the
// same KEK, the inverse of WrapContentKey. A target that stores its
// content keys KEK-wrapped in a DELTA_BASE-adjacent TLV or a dedicated
// key-provisioning record calls this once at boot before constructing a
// StreamCipher/AEAD for the encrypted-update option.
func UnwrapContentKey(kek, wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, util.FmtChildBootError(util.KindFatal, err,
			"failed to create key-wrap cipher")
	}
	contentKey, err := keywrap.Unwrap(block, wrapped)
	if err != nil {
		return nil, util.FmtChildBootError(util.KindFatal, err,
			"failed to unwrap content key")
	}
	return contentKey, nil
}
