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
	"bytes"
	"testing"
)

func TestAESCTRStreamRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	nonce := make([]byte, 16)
	plaintext := []byte("firmware payload to be encrypted under aes-ctr")

	enc, err := NewAESCTRStream(key, nonce)
	if err != nil {
		t.Fatalf("NewAESCTRStream: %v", err)
	}
	ciphertext := make([]byte, len(plaintext))
	enc.XORKeyStream(ciphertext, plaintext)

	dec, err := NewAESCTRStream(key, nonce)
	if err != nil {
		t.Fatalf("NewAESCTRStream: %v", err)
	}
	recovered := make([]byte, len(ciphertext))
	dec.XORKeyStream(recovered, ciphertext)

	if !bytes.Equal(recovered, plaintext) {
		t.Errorf("recovered = %q, want %q", recovered, plaintext)
	}
}

func TestChaCha20Poly1305SealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	aead, err := NewChaCha20Poly1305(key)
	if err != nil {
		t.Fatalf("NewChaCha20Poly1305: %v", err)
	}
	nonce := make([]byte, aead.NonceSize())
	plaintext := []byte("encrypted-update payload")

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	opened, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("opened = %q, want %q", opened, plaintext)
	}

	sealed[0] ^= 0xFF
	if _, err := aead.Open(nil, nonce, sealed, nil); err == nil {
		t.Error("expected Open to reject a tampered ciphertext")
	}
}

func TestWrapUnwrapContentKey(t *testing.T) {
	kek := bytes.Repeat([]byte{0x99}, 16)
	contentKey := bytes.Repeat([]byte{0x07}, 16)

	wrapped, err := WrapContentKey(kek, contentKey)
	if err != nil {
		t.Fatalf("WrapContentKey: %v", err)
	}
	if bytes.Equal(wrapped, contentKey) {
		t.Error("wrapped key must not equal the plaintext content key")
	}

	recovered, err := UnwrapContentKey(kek, wrapped)
	if err != nil {
		t.Fatalf("UnwrapContentKey: %v", err)
	}
	if !bytes.Equal(recovered, contentKey) {
		t.Errorf("recovered content key = %x, want %x", recovered, contentKey)
	}

	wrongKek := bytes.Repeat([]byte{0x98}, 16)
	if _, err := UnwrapContentKey(wrongKek, wrapped); err == nil {
		t.Error("expected UnwrapContentKey to fail integrity check under the wrong KEK")
	}
}
