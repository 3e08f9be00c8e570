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
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"secureboot.dev/bootloader/util"
)

// StdlibKeygen generates a fresh private key for alg, for use by
// development tooling (cmd/bootsim's in-memory scenarios) that needs a
// signing key without reading one off disk. It is not part of any
// on-target surface - key generation only ever happens on a
// development host.
func StdlibKeygen(alg Algorithm) (interface{}, error) {
	switch alg {
	case AlgECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case AlgECDSAP521:
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case AlgRSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case AlgRSA3072:
		return rsa.GenerateKey(rand.Reader, 3072)
	case AlgRSA4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	case AlgEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	default:
		return nil, unsupported(alg.String())
	}
}

// ParsePrivateKeyPEM decodes a PEM-encoded private key in any of the
// formats the teacher's artifact/image.ParsePrivateKey accepts (PKCS#1
// RSA, SEC1 EC, PKCS#8), plus PKCS#8 Ed25519 - needed here because
// spec.md's algorithm list includes Ed25519 alongside ECDSA/RSA.
func ParsePrivateKeyPEM(pemBytes []byte) (interface{}, Algorithm, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, AlgUnknown, util.FmtBootError(util.KindFatal,
			"no PEM block found in key file")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, AlgUnknown, util.FmtChildBootError(util.KindFatal, err,
				"failed to parse RSA private key")
		}
		return key, rsaAlgFor(key), nil

	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, AlgUnknown, util.FmtChildBootError(util.KindFatal, err,
				"failed to parse EC private key")
		}
		return key, ecAlgFor(key), nil

	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, AlgUnknown, util.FmtChildBootError(util.KindFatal, err,
				"failed to parse PKCS8 private key")
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, rsaAlgFor(k), nil
		case *ecdsa.PrivateKey:
			return k, ecAlgFor(k), nil
		case ed25519.PrivateKey:
			return k, AlgEd25519, nil
		default:
			return nil, AlgUnknown, util.FmtBootError(util.KindFatal,
				"unsupported PKCS8 key type")
		}

	default:
		return nil, AlgUnknown, util.FmtBootError(util.KindFatal,
			"unknown private key PEM block type %q", block.Type)
	}
}

func rsaAlgFor(key *rsa.PrivateKey) Algorithm {
	switch key.Size() * 8 {
	case 2048:
		return AlgRSA2048
	case 3072:
		return AlgRSA3072
	case 4096:
		return AlgRSA4096
	default:
		return AlgUnknown
	}
}

func ecAlgFor(key *ecdsa.PrivateKey) Algorithm {
	switch key.Curve {
	case elliptic.P256():
		return AlgECDSAP256
	case elliptic.P384():
		return AlgECDSAP384
	case elliptic.P521():
		return AlgECDSAP521
	default:
		return AlgUnknown
	}
}

// PublicKeyBytesFor returns the DER (PKIX) encoding of the public half
// of priv, the form StdlibProvider.Verify expects as pubKey - and the
// same RawKeyHash input the teacher's key.go computes a hint over.
func PublicKeyBytesFor(priv interface{}) ([]byte, error) {
	var pub interface{}
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		pub = &k.PublicKey
	case *ecdsa.PrivateKey:
		pub = &k.PublicKey
	case ed25519.PrivateKey:
		pub = k.Public()
	default:
		return nil, util.FmtBootError(util.KindFatal, "unsupported private key type")
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, util.FmtChildBootError(util.KindFatal, err,
			"failed to marshal public key")
	}
	return der, nil
}
