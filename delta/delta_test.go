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

package delta

import (
	"bytes"
	"encoding/binary"
	"testing"

	"secureboot.dev/bootloader/cryptohal"
)

type recordingSink struct {
	chunks [][]byte
}

func (s *recordingSink) Write(chunk []byte) error {
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return nil
}

func (s *recordingSink) flattened() []byte {
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

func encodeCopy(baseOffset, length uint32) []byte {
	buf := make([]byte, 12)
	buf[0] = byte(OpCopyFromBase)
	binary.LittleEndian.PutUint32(buf[4:8], length)
	binary.LittleEndian.PutUint32(buf[8:12], baseOffset)
	return buf
}

func encodeLiteral(data []byte) []byte {
	buf := make([]byte, 8+len(data))
	buf[0] = byte(OpLiteral)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[8:], data)
	return buf
}

func TestReconstructCopyAndLiteral(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog")

	var script []byte
	script = append(script, encodeCopy(4, 5)...)         // "quick"
	script = append(script, encodeLiteral([]byte(" FAST "))...)
	script = append(script, encodeCopy(16, 3)...)         // "fox"
	script = append(script, byte(OpEnd))

	sink := &recordingSink{}
	if err := Reconstruct(base, script, 4, sink); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	want := "quick FAST fox"
	if got := string(sink.flattened()); got != want {
		t.Errorf("reconstructed = %q, want %q", got, want)
	}

	for _, c := range sink.chunks[:len(sink.chunks)-1] {
		if len(c) != 4 {
			t.Errorf("intermediate chunk size = %d, want chunkSize 4", len(c))
		}
	}
}

func TestReconstructRejectsOutOfRangeCopy(t *testing.T) {
	base := []byte("short")
	script := append(encodeCopy(0, 100), byte(OpEnd))

	sink := &recordingSink{}
	if err := Reconstruct(base, script, 16, sink); err == nil {
		t.Error("expected Reconstruct to reject a copy instruction reading past the base image")
	}
}

func TestReconstructRejectsUnknownOpcode(t *testing.T) {
	script := []byte{0x77, 0, 0, 0}
	sink := &recordingSink{}
	if err := Reconstruct(nil, script, 16, sink); err == nil {
		t.Error("expected Reconstruct to reject an unknown opcode")
	}
}

func TestVerifyBase(t *testing.T) {
	provider := cryptohal.StdlibProvider{}
	base := []byte("base image contents")

	hasher, err := provider.NewHasher(cryptohal.HashSHA256)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	hasher.Write(base)
	digest := hasher.Sum()

	if err := VerifyBase(base, digest, provider, cryptohal.HashSHA256); err != nil {
		t.Errorf("VerifyBase: %v", err)
	}

	corrupted := append([]byte(nil), base...)
	corrupted[0] ^= 0xFF
	if err := VerifyBase(corrupted, digest, provider, cryptohal.HashSHA256); err == nil {
		t.Error("expected VerifyBase to reject a corrupted base image")
	}
}

func TestEncodeHelpersProduceParsableInstructions(t *testing.T) {
	// Sanity check on the test helpers themselves: a round trip through
	// parseInstructions should reproduce the same (offset, length) pairs.
	script := append(encodeCopy(1, 2), byte(OpEnd))
	instrs, err := parseInstructions(script)
	if err != nil {
		t.Fatalf("parseInstructions: %v", err)
	}
	if len(instrs) != 1 || instrs[0].BaseOffset != 1 || instrs[0].Length != 2 {
		t.Errorf("unexpected parse result: %+v", instrs)
	}
	if !bytes.Equal(script[:4], []byte{byte(OpCopyFromBase), 0, 0, 0}) {
		t.Errorf("unexpected header bytes: %v", script[:4])
	}
}
