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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/asn1"

	"secureboot.dev/bootloader/util"
)

// Signer is the host-side counterpart to Verifier: spec.md §6.5's
// packaging tool needs to produce the signatures the embedded side only
// ever verifies. It is not part of the bootloader core's Crypto
// interface (spec.md §4.2 only names verify), and is only implemented
// against the Go standard library - a signing tool runs on a
// development machine, not on the target, so there is no HAL to
// abstract here.
type Signer interface {
	Sign(alg Algorithm, priv interface{}, digest []byte) ([]byte, error)
}

// StdlibSigner signs with the same three algorithm families
// StdlibProvider verifies: ECDSA P-256/384/521, RSA-PSS, and Ed25519.
type StdlibSigner struct{}

func (StdlibSigner) Sign(alg Algorithm, priv interface{}, digest []byte) ([]byte, error) {
	switch alg {
	case AlgECDSAP256, AlgECDSAP384, AlgECDSAP521:
		key, ok := priv.(*ecdsa.PrivateKey)
		if !ok {
			return nil, util.FmtBootError(util.KindFatal, "key is not an ECDSA private key")
		}
		r, s, err := ecdsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, util.FmtChildBootError(util.KindFatal, err, "ECDSA signing failed")
		}
		sig, err := asn1.Marshal(ecdsaSig{R: r, S: s})
		if err != nil {
			return nil, util.FmtChildBootError(util.KindFatal, err, "failed to construct ECDSA signature")
		}
		sigLen := MaxSigLen(alg)
		if uint32(len(sig)) > sigLen {
			return nil, util.FmtBootError(util.KindFatal,
				"ECDSA signature (%d bytes) exceeds reserved SIGNATURE TLV size %d", len(sig), sigLen)
		}
		pad := make([]byte, sigLen-uint32(len(sig)))
		return append(sig, pad...), nil

	case AlgRSA2048, AlgRSA3072, AlgRSA4096:
		key, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, util.FmtBootError(util.KindFatal, "key is not an RSA private key")
		}
		opts := rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}
		sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest, &opts)
		if err != nil {
			return nil, util.FmtChildBootError(util.KindFatal, err, "RSA-PSS signing failed")
		}
		return sig, nil

	case AlgEd25519:
		key, ok := priv.(ed25519.PrivateKey)
		if !ok {
			return nil, util.FmtBootError(util.KindFatal, "key is not an Ed25519 private key")
		}
		return ed25519.Sign(key, digest), nil

	default:
		return nil, unsupported(alg.String())
	}
}
