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
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"math/big"

	"golang.org/x/crypto/sha3"

	"secureboot.dev/bootloader/util"
)

// StdlibProvider verifies signatures and computes digests using only
// the Go standard library plus golang.org/x/crypto/sha3 for the
// SHA3-384 option. It covers ECDSA P-256/384/521, RSA-PSS, and
// Ed25519 - the algorithms spec.md's Crypto interface lists that the Go
// ecosystem has mature, widely used implementations for. LMS, XMSS, and
// ML-DSA are named in the Algorithm enum for configuration
// completeness but have no provider here (see DESIGN.md).
type StdlibProvider struct{}

type sumHasher struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
		Reset()
	}
}

func (s *sumHasher) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *sumHasher) Sum() []byte                 { return s.h.Sum(nil) }
func (s *sumHasher) Reset()                      { s.h.Reset() }

func (StdlibProvider) NewHasher(alg HashAlg) (Hasher, error) {
	switch alg {
	case HashSHA256:
		return &sumHasher{h: sha256.New()}, nil
	case HashSHA384:
		return &sumHasher{h: sha512.New384()}, nil
	case HashSHA3_384:
		return &sumHasher{h: sha3.New384()}, nil
	default:
		return nil, unsupported(alg.String())
	}
}

// ecdsaSig is the ASN.1 structure wrapping an (r, s) pair, matching the
// teacher's own ImageCreator.ECDSASig (artifact/image/create.go).
type ecdsaSig struct {
	R *big.Int
	S *big.Int
}

func (StdlibProvider) Verify(alg Algorithm, pubKey []byte, digest []byte,
	signature []byte) (bool, error) {

	switch alg {
	case AlgECDSAP256, AlgECDSAP384, AlgECDSAP521:
		return verifyECDSA(alg, pubKey, digest, signature)
	case AlgRSA2048, AlgRSA3072, AlgRSA4096:
		return verifyRSA(pubKey, digest, signature)
	case AlgEd25519:
		return verifyEd25519(pubKey, digest, signature)
	default:
		return false, unsupported(alg.String())
	}
}

func curveFor(alg Algorithm) elliptic.Curve {
	switch alg {
	case AlgECDSAP256:
		return elliptic.P256()
	case AlgECDSAP384:
		return elliptic.P384()
	case AlgECDSAP521:
		return elliptic.P521()
	default:
		return nil
	}
}

func verifyECDSA(alg Algorithm, pubKeyBytes []byte, digest []byte,
	signature []byte) (bool, error) {

	curve := curveFor(alg)
	if curve == nil {
		return false, unsupported(alg.String())
	}

	pub, err := x509.ParsePKIXPublicKey(pubKeyBytes)
	if err != nil {
		return false, util.FmtChildBootError(util.KindBadSignature, err,
			"failed to parse ECDSA public key")
	}

	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false, util.FmtBootError(util.KindBadSignature,
			"key is not an ECDSA public key")
	}
	if ecPub.Curve != curve {
		return false, util.FmtBootError(util.KindBadSignature,
			"key curve does not match algorithm %s", alg)
	}

	var sig ecdsaSig
	if _, err := asn1.Unmarshal(signature, &sig); err != nil {
		return false, util.FmtChildBootError(util.KindBadSignature, err,
			"failed to parse ECDSA signature")
	}

	return ecdsa.Verify(ecPub, digest, sig.R, sig.S), nil
}

func verifyRSA(pubKeyBytes []byte, digest []byte, signature []byte) (bool, error) {
	pub, err := x509.ParsePKIXPublicKey(pubKeyBytes)
	if err != nil {
		// Fall back to PKCS1 public key encoding.
		rsaPub, err2 := x509.ParsePKCS1PublicKey(pubKeyBytes)
		if err2 != nil {
			return false, util.FmtChildBootError(util.KindBadSignature, err,
				"failed to parse RSA public key")
		}
		pub = rsaPub
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return false, util.FmtBootError(util.KindBadSignature,
			"key is not an RSA public key")
	}

	opts := rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}
	err = rsa.VerifyPSS(rsaPub, crypto.SHA256, digest, signature, &opts)
	return err == nil, nil
}

func verifyEd25519(pubKeyBytes []byte, digest []byte, signature []byte) (bool, error) {
	if pub, err := x509.ParsePKIXPublicKey(pubKeyBytes); err == nil {
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return false, util.FmtBootError(util.KindBadSignature,
				"key is not an Ed25519 public key")
		}
		pubKeyBytes = edPub
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false, util.FmtBootError(util.KindBadSignature,
			"ed25519 public key has wrong size: %d", len(pubKeyBytes))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), digest, signature), nil
}
