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
	"testing"

	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/keystore"
)

const testImageTypeECDSA = 0x0001 // low byte 0x01 = ECDSA P-256; hashAlgFor maps it to SHA-256

func buildSignedImage(t *testing.T, payload []byte) ([]byte, keystore.Entry) {
	t.Helper()

	priv, err := cryptohal.StdlibKeygen(cryptohal.AlgECDSAP256)
	if err != nil {
		t.Fatalf("StdlibKeygen: %v", err)
	}
	pubBytes, err := cryptohal.PublicKeyBytesFor(priv)
	if err != nil {
		t.Fatalf("PublicKeyBytesFor: %v", err)
	}
	hint := keystore.KeyHash(pubBytes)

	builder := &Builder{
		HeaderSize: 256,
		ImageType:  testImageTypeECDSA,
		Version:    7,
		PubKeyHint: hint,
	}

	digestLen := uint32(cryptohal.HashLen(cryptohal.HashSHA256))
	sigLen := cryptohal.MaxSigLen(cryptohal.AlgECDSAP256)

	imageBytes, err := builder.Build(payload, digestLen, sigLen, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	provider := cryptohal.StdlibProvider{}
	hasher, err := provider.NewHasher(cryptohal.HashSHA256)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	hasher.Write(imageBytes) // DIGEST TLV value is still zero-filled here.
	digest := hasher.Sum()

	if err := FillTlv(imageBytes, builder.HeaderSize, TagDigest, digest); err != nil {
		t.Fatalf("FillTlv(digest): %v", err)
	}

	sig, err := (cryptohal.StdlibSigner{}).Sign(cryptohal.AlgECDSAP256, priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := FillTlv(imageBytes, builder.HeaderSize, TagSignature, sig); err != nil {
		t.Fatalf("FillTlv(signature): %v", err)
	}

	entry := keystore.Entry{
		Algorithm:      cryptohal.AlgECDSAP256,
		PubKeyHash:     hint,
		PubKey:         pubBytes,
		PermissionMask: 0xFFFFFFFF,
	}
	return imageBytes, entry
}

func TestBuildParseVerifyRoundTrip(t *testing.T) {
	payload := []byte("firmware payload bytes, not a real image")
	imageBytes, entry := buildSignedImage(t, payload)

	img, err := Open(imageBytes, 256, uint32(len(imageBytes)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if img.PayloadLen != uint32(len(payload)) {
		t.Errorf("PayloadLen = %d, want %d", img.PayloadLen, len(payload))
	}
	if string(img.Payload) != string(payload) {
		t.Errorf("Payload mismatch")
	}

	provider := cryptohal.StdlibProvider{}
	if err := VerifyIntegrity(img, provider); err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}

	store := keystore.New([]keystore.Entry{entry})
	if err := VerifyAuthenticity(img, store, provider); err != nil {
		t.Fatalf("VerifyAuthenticity: %v", err)
	}
}

func TestVerifyIntegrityDetectsCorruption(t *testing.T) {
	payload := []byte("firmware payload bytes, not a real image")
	imageBytes, _ := buildSignedImage(t, payload)

	// Flip a payload byte after signing.
	imageBytes[len(imageBytes)-1] ^= 0xFF

	img, err := Open(imageBytes, 256, uint32(len(imageBytes)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	provider := cryptohal.StdlibProvider{}
	if err := VerifyIntegrity(img, provider); err == nil {
		t.Error("expected VerifyIntegrity to reject a corrupted payload")
	}
}

func TestVerifyAuthenticityUntrustedKey(t *testing.T) {
	payload := []byte("firmware payload bytes")
	imageBytes, _ := buildSignedImage(t, payload)

	img, err := Open(imageBytes, 256, uint32(len(imageBytes)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Empty keystore: no entry matches the image's PUBKEY_HINT.
	store := keystore.New(nil)
	provider := cryptohal.StdlibProvider{}
	if err := VerifyAuthenticity(img, store, provider); err == nil {
		t.Error("expected VerifyAuthenticity to fail against an empty keystore")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	payload := []byte("x")
	imageBytes, _ := buildSignedImage(t, payload)
	imageBytes[0] ^= 0xFF // corrupt MAGIC

	if _, err := Open(imageBytes, 256, uint32(len(imageBytes))); err == nil {
		t.Error("expected Open to reject a bad magic value")
	}
}

func TestOpenRejectsUnknownCriticalTLV(t *testing.T) {
	payload := []byte("payload")
	imageBytes, _ := buildSignedImage(t, payload)

	// Overwrite the start of the TLV area with an unrecognized tag whose
	// critical bit is set.
	header := imageBytes[:256]
	header[8] = 0x34
	header[9] = 0x92 // tag 0x9234, high bit set -> critical
	header[10] = 0x00
	header[11] = 0x00 // length 0

	if _, err := Open(imageBytes, 256, uint32(len(imageBytes))); err == nil {
		t.Error("expected Open to reject an unknown critical TLV")
	}
}

func TestFindTlvFirstOccurrenceWins(t *testing.T) {
	img := &Image{
		Tlvs: []Tlv{
			{Tag: TagDeviceID, Value: []byte{1}},
			{Tag: TagDeviceID, Value: []byte{2}},
		},
	}
	tlv, ok := img.FindTlv(TagDeviceID)
	if !ok || len(tlv.Value) != 1 || tlv.Value[0] != 1 {
		t.Errorf("FindTlv did not return the first matching TLV: %+v", tlv)
	}
}
