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

package keystore

import (
	"testing"

	"secureboot.dev/bootloader/cryptohal"
)

func TestFindByHint(t *testing.T) {
	pubA := []byte("pubkey A")
	pubB := []byte("pubkey B")

	store := New([]Entry{
		{Algorithm: cryptohal.AlgECDSAP256, PubKeyHash: KeyHash(pubA), PubKey: pubA, PermissionMask: 0x1},
		{Algorithm: cryptohal.AlgRSA2048, PubKeyHash: KeyHash(pubB), PubKey: pubB, PermissionMask: 0x2},
	})

	entry, idx, ok := store.FindByHint(KeyHash(pubA))
	if !ok || idx != 0 || string(entry.PubKey) != string(pubA) {
		t.Fatalf("FindByHint(A) = %+v, %d, %v", entry, idx, ok)
	}

	_, _, ok = store.FindByHint(KeyHash([]byte("no such key")))
	if ok {
		t.Error("expected FindByHint to miss on an unregistered hint")
	}
}

func TestRevokeRemovesFromFindByHint(t *testing.T) {
	pub := []byte("revocable key")
	store := New([]Entry{
		{Algorithm: cryptohal.AlgEd25519, PubKeyHash: KeyHash(pub), PubKey: pub, PermissionMask: 0xFF},
	})

	if _, _, ok := store.FindByHint(KeyHash(pub)); !ok {
		t.Fatal("expected key to be found before revocation")
	}

	store.Revoke(0)
	if !store.IsRevoked(0) {
		t.Error("IsRevoked(0) = false after Revoke(0)")
	}
	if _, _, ok := store.FindByHint(KeyHash(pub)); ok {
		t.Error("expected FindByHint to skip a revoked entry")
	}
}

func TestHasPermission(t *testing.T) {
	e := Entry{PermissionMask: 0b0110}
	if !e.HasPermission(0b0010) {
		t.Error("expected 0b0010 to be permitted by mask 0b0110")
	}
	if e.HasPermission(0b1000) {
		t.Error("expected 0b1000 to be denied by mask 0b0110")
	}
	if !e.HasPermission(0) {
		t.Error("expected the empty requirement to always be permitted")
	}
}

func TestKeyIndexOutOfRange(t *testing.T) {
	store := New(nil)
	if _, err := store.Key(0); err == nil {
		t.Error("expected Key(0) on an empty store to error")
	}
}
