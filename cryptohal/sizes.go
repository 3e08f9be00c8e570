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

// HashLen returns the digest size of alg, the size a DIGEST TLV holds.
func HashLen(alg HashAlg) int {
	switch alg {
	case HashSHA256:
		return 32
	case HashSHA384:
		return 48
	case HashSHA3_384:
		return 48
	default:
		return 0
	}
}

// MaxSigLen returns the fixed SIGNATURE TLV size a Builder reserves for
// alg. RSA-PSS and Ed25519 signatures are exactly this size; ECDSA's
// DER encoding varies by a byte or two depending on the sign of R/S, so
// the teacher's ImageSigKey.sigLen() reserves a worst-case size and
// StdlibSigner pads short signatures out to it with trailing zero
// bytes, which asn1.Unmarshal ignores as trailing garbage.
func MaxSigLen(alg Algorithm) uint32 {
	switch alg {
	case AlgECDSAP256:
		return 72
	case AlgECDSAP384:
		return 104
	case AlgECDSAP521:
		return 141
	case AlgRSA2048:
		return 256
	case AlgRSA3072:
		return 384
	case AlgRSA4096:
		return 512
	case AlgEd25519:
		return 64
	default:
		return 0
	}
}
