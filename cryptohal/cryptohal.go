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

// Package cryptohal declares the streaming-hash and signature-verify
// contract consumed by container.VerifyIntegrity/VerifyAuthenticity, per
// spec.md §4.2.  Primitive implementations are an external collaborator;
// this package also ships a stdlib-backed reference Provider so the core
// can be exercised on a development host without a real HSM or hardware
// crypto accelerator.
package cryptohal

import (
	"crypto/subtle"

	"secureboot.dev/bootloader/util"
)

// Algorithm identifies a signature scheme. Values are a stable contract:
// a signing tool and a verifier must agree on them bit-exactly, per
// spec.md §9's instruction not to re-derive such assignments.
type Algorithm uint8

const (
	AlgUnknown Algorithm = iota
	AlgECDSAP256
	AlgECDSAP384
	AlgECDSAP521
	AlgRSA2048
	AlgRSA3072
	AlgRSA4096
	AlgEd25519
	AlgEd448
	AlgLMS
	AlgXMSS
	AlgMLDSA
)

func (a Algorithm) String() string {
	switch a {
	case AlgECDSAP256:
		return "ecdsa-p256"
	case AlgECDSAP384:
		return "ecdsa-p384"
	case AlgECDSAP521:
		return "ecdsa-p521"
	case AlgRSA2048:
		return "rsa-2048"
	case AlgRSA3072:
		return "rsa-3072"
	case AlgRSA4096:
		return "rsa-4096"
	case AlgEd25519:
		return "ed25519"
	case AlgEd448:
		return "ed448"
	case AlgLMS:
		return "lms"
	case AlgXMSS:
		return "xmss"
	case AlgMLDSA:
		return "ml-dsa"
	default:
		return "unknown"
	}
}

// HashAlg identifies a digest algorithm, per spec.md §4.2.
type HashAlg uint8

const (
	HashUnknown HashAlg = iota
	HashSHA256
	HashSHA384
	HashSHA3_384
)

func (h HashAlg) String() string {
	switch h {
	case HashSHA256:
		return "sha-256"
	case HashSHA384:
		return "sha-384"
	case HashSHA3_384:
		return "sha3-384"
	default:
		return "unknown"
	}
}

// Hasher streams header+payload bytes through a single configured
// digest algorithm, mirroring spec.md §4.2's hash_init/hash_update/
// hash_final triad as Go's incremental-write idiom.
type Hasher interface {
	Write(p []byte) (int, error)
	Sum() []byte
	Reset()
}

// Verifier checks a signature over a digest under a public key of a
// given Algorithm. Implementations must use constant-time comparison
// internally where the underlying primitive allows it (e.g. ECDSA/RSA
// verification is already constant-time in crypto/...; digest
// comparison before that point must use ConstantTimeEqual).
type Verifier interface {
	Verify(alg Algorithm, pubKey []byte, digest []byte, signature []byte) (bool, error)
}

// Provider bundles a Hasher factory and a Verifier, the unit container
// and keystore depend on.
type Provider interface {
	NewHasher(alg HashAlg) (Hasher, error)
	Verifier
}

// ConstantTimeEqual performs a constant-time byte-slice comparison, the
// "constant-time comparison of digest bytes" spec.md §4.2 requires.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

var ErrUnsupportedAlg = util.FmtBootError(util.KindFatal,
	"unsupported algorithm: no provider bound")

func unsupported(name string) error {
	return util.FmtBootError(util.KindFatal,
		"unsupported algorithm %q: no provider bound", name)
}
