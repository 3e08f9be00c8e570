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

package bootpolicy

import (
	"testing"

	"secureboot.dev/bootloader/container"
	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/halmock"
	"secureboot.dev/bootloader/keystore"
	"secureboot.dev/bootloader/partition"
	"secureboot.dev/bootloader/swap"
)

const (
	policyTestHeaderSize = 256
	policyTestSectorSize = 512
	policyTestBodyLen    = 2
	policyTestAreaSize   = (policyTestBodyLen + 1) * policyTestSectorSize
)

type policyFixture struct {
	boot, update                         *partition.Partition
	bootFlash, updateFlash, scratchFlash *halmock.Flash
	scratch                              partition.Area
	store                                *keystore.Store
	crypto                                cryptohal.Provider
	priv                                  interface{}
}

func newPolicyFixture(t *testing.T) *policyFixture {
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

	f := &policyFixture{
		bootFlash:    halmock.NewFlash(policyTestAreaSize, 0xFF, policyTestSectorSize, 4),
		updateFlash:  halmock.NewFlash(policyTestAreaSize, 0xFF, policyTestSectorSize, 4),
		scratchFlash: halmock.NewFlash(1024, 0xFF, 1024, 4),
		crypto:       cryptohal.StdlibProvider{},
		priv:         priv,
	}
	f.boot = &partition.Partition{
		Area:  partition.Area{Role: partition.RoleBoot, Offset: 0, Size: policyTestAreaSize, SectorSize: policyTestSectorSize},
		Flash: f.bootFlash,
	}
	f.update = &partition.Partition{
		Area:  partition.Area{Role: partition.RoleUpdate, Offset: 0, Size: policyTestAreaSize, SectorSize: policyTestSectorSize},
		Flash: f.updateFlash,
	}
	f.scratch = partition.Area{Role: partition.RoleScratch, Offset: 0, Size: 1024, SectorSize: 1024}
	f.store = keystore.New([]keystore.Entry{{
		Algorithm:      cryptohal.AlgECDSAP256,
		PubKeyHash:     hint,
		PubKey:         pubBytes,
		PermissionMask: 0xFFFFFFFF,
	}})
	return f
}

func (f *policyFixture) flashSignedImage(t *testing.T, p *partition.Partition, version uint32) {
	t.Helper()

	priv := f.priv
	pubBytes, err := cryptohal.PublicKeyBytesFor(priv)
	if err != nil {
		t.Fatalf("PublicKeyBytesFor: %v", err)
	}
	hint := keystore.KeyHash(pubBytes)

	builder := &container.Builder{
		HeaderSize: policyTestHeaderSize,
		ImageType:  0x0001,
		Version:    version,
		PubKeyHint: hint,
	}
	payload := make([]byte, p.Area.BodySize()-policyTestHeaderSize)
	for i := range payload {
		payload[i] = byte(version)
	}

	digestLen := uint32(cryptohal.HashLen(cryptohal.HashSHA256))
	sigLen := cryptohal.MaxSigLen(cryptohal.AlgECDSAP256)
	imageBytes, err := builder.Build(payload, digestLen, sigLen, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hasher, err := f.crypto.NewHasher(cryptohal.HashSHA256)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	hasher.Write(imageBytes)
	digest := hasher.Sum()
	if err := container.FillTlv(imageBytes, policyTestHeaderSize, container.TagDigest, digest); err != nil {
		t.Fatalf("FillTlv(digest): %v", err)
	}
	sig, err := (cryptohal.StdlibSigner{}).Sign(cryptohal.AlgECDSAP256, priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := container.FillTlv(imageBytes, policyTestHeaderSize, container.TagSignature, sig); err != nil {
		t.Fatalf("FillTlv(signature): %v", err)
	}

	if err := p.Flash.Erase(p.Area.Offset, p.Area.BodySize()); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := p.Flash.Write(p.Area.Offset, imageBytes); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func (f *policyFixture) newPolicy(cfg Config) *Policy {
	return &Policy{
		Boot:   f.boot,
		Update: f.update,
		Store:  f.store,
		Crypto: f.crypto,
		Config: cfg,
		NewSwapEngine: func() swap.Engine {
			return &swap.SoftwareEngine{
				Boot:         f.boot,
				Update:       f.update,
				Scratch:      f.scratch,
				ScratchFlash: f.scratchFlash,
			}
		},
	}
}

func TestRunTriggersSwapAndBootsUpdatedImage(t *testing.T) {
	f := newPolicyFixture(t)
	f.flashSignedImage(t, f.boot, 1)
	f.flashSignedImage(t, f.update, 2)
	if err := f.update.WriteState(partition.StateUpdating); err != nil {
		t.Fatalf("WriteState(update, UPDATING): %v", err)
	}

	p := f.newPolicy(Config{UpdateMode: ModeSwap, HeaderSize: policyTestHeaderSize})

	outcome, err := p.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.SwapRan {
		t.Error("expected SwapRan=true when UPDATE is in the UPDATING state")
	}
	if outcome.Version != 2 {
		t.Errorf("outcome.Version = %d, want 2 (the swapped-in image)", outcome.Version)
	}
	if outcome.BootedRole != partition.RoleBoot {
		t.Errorf("outcome.BootedRole = %s, want BOOT", outcome.BootedRole)
	}

	state, valid, err := f.boot.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if !valid || state != partition.StateTesting {
		t.Errorf("BOOT state = %s (valid=%v), want TESTING after an unconfirmed swap", state, valid)
	}
}

func TestRunWithoutPendingUpdateVerifiesBootDirectly(t *testing.T) {
	f := newPolicyFixture(t)
	f.flashSignedImage(t, f.boot, 5)

	p := f.newPolicy(Config{UpdateMode: ModeSwap, HeaderSize: policyTestHeaderSize})

	outcome, err := p.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.SwapRan {
		t.Error("expected no swap when UPDATE has no pending trigger")
	}
	if outcome.Version != 5 {
		t.Errorf("outcome.Version = %d, want 5", outcome.Version)
	}
}

// TestRunFinalizesSwapFromConfirmedBoot starts BOOT at StateSuccess, the
// starting condition spec.md §8 S2 actually describes ("BOOT = v1
// SUCCESS"), rather than the erased StateNew a fresh fixture leaves
// behind. Finalizing a swap writes STATE[BOOT] = TESTING, a popcount
// increase over SUCCESS that invariant I4 forbids without first backing
// up and erasing the trailer sector; this exercises that path end to
// end instead of the accidentally-easier NEW -> TESTING transition.
func TestRunFinalizesSwapFromConfirmedBoot(t *testing.T) {
	f := newPolicyFixture(t)
	f.flashSignedImage(t, f.boot, 1)
	f.flashSignedImage(t, f.update, 2)
	if err := f.boot.WriteState(partition.StateSuccess); err != nil {
		t.Fatalf("WriteState(boot, SUCCESS): %v", err)
	}
	if err := f.update.WriteState(partition.StateUpdating); err != nil {
		t.Fatalf("WriteState(update, UPDATING): %v", err)
	}

	p := f.newPolicy(Config{UpdateMode: ModeSwap, HeaderSize: policyTestHeaderSize})

	outcome, err := p.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.SwapRan {
		t.Error("expected SwapRan=true")
	}
	if outcome.Version != 2 {
		t.Errorf("outcome.Version = %d, want 2", outcome.Version)
	}

	state, valid, err := f.boot.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if !valid || state != partition.StateTesting {
		t.Errorf("BOOT state = %s (valid=%v), want TESTING even though BOOT started at SUCCESS", state, valid)
	}
}

// TestRunConfirmThenResetBootsWithNoSwap models spec.md §8 S3: after a
// swap installs v2 into BOOT, the application calls success() (modeled
// here as directly writing StateSuccess) before the next reset. That
// reset must neither re-run the swap nor roll back.
func TestRunConfirmThenResetBootsWithNoSwap(t *testing.T) {
	f := newPolicyFixture(t)
	f.flashSignedImage(t, f.boot, 1)
	f.flashSignedImage(t, f.update, 2)
	if err := f.boot.WriteState(partition.StateSuccess); err != nil {
		t.Fatalf("WriteState(boot, SUCCESS): %v", err)
	}
	if err := f.update.WriteState(partition.StateUpdating); err != nil {
		t.Fatalf("WriteState(update, UPDATING): %v", err)
	}

	p := f.newPolicy(Config{UpdateMode: ModeSwap, HeaderSize: policyTestHeaderSize})

	if _, err := p.Run(); err != nil {
		t.Fatalf("first Run (forward swap): %v", err)
	}
	if err := f.boot.WriteState(partition.StateSuccess); err != nil {
		t.Fatalf("confirm: WriteState(boot, SUCCESS): %v", err)
	}

	outcome, err := p.Run()
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if outcome.SwapRan {
		t.Error("expected no swap on a reset after confirmation")
	}
	if outcome.RolledBack {
		t.Error("expected no rollback on a reset after confirmation")
	}
	if outcome.Version != 2 {
		t.Errorf("outcome.Version = %d, want 2 (the confirmed image)", outcome.Version)
	}

	state, _, err := f.boot.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state != partition.StateSuccess {
		t.Errorf("BOOT state = %s, want SUCCESS to remain untouched", state)
	}
}

// TestRunRollsBackUnconfirmedSwap models spec.md §8 S4: continuing S2
// with no success() call, a second reset must detect the unconfirmed
// TESTING image and swap back to the BACKUP, restoring the prior image
// as an already-confirmed SUCCESS.
func TestRunRollsBackUnconfirmedSwap(t *testing.T) {
	f := newPolicyFixture(t)
	f.flashSignedImage(t, f.boot, 1)
	f.flashSignedImage(t, f.update, 2)
	if err := f.boot.WriteState(partition.StateSuccess); err != nil {
		t.Fatalf("WriteState(boot, SUCCESS): %v", err)
	}
	if err := f.update.WriteState(partition.StateUpdating); err != nil {
		t.Fatalf("WriteState(update, UPDATING): %v", err)
	}

	p := f.newPolicy(Config{UpdateMode: ModeSwap, HeaderSize: policyTestHeaderSize})

	if _, err := p.Run(); err != nil {
		t.Fatalf("first Run (forward swap): %v", err)
	}
	// No success() call: BOOT is left in TESTING.

	outcome, err := p.Run()
	if err != nil {
		t.Fatalf("second Run (rollback): %v", err)
	}
	if !outcome.RolledBack {
		t.Error("expected RolledBack=true on a reset with BOOT still unconfirmed")
	}
	if !outcome.SwapRan {
		t.Error("expected SwapRan=true for the reverse swap")
	}
	if outcome.Version != 1 {
		t.Errorf("outcome.Version = %d, want 1 (the restored original image)", outcome.Version)
	}

	state, _, err := f.boot.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state != partition.StateSuccess {
		t.Errorf("BOOT state after rollback = %s, want SUCCESS (spec.md §8 S4)", state)
	}
}

func TestRunRejectsCorruptedBootWithNoBackup(t *testing.T) {
	f := newPolicyFixture(t)
	f.flashSignedImage(t, f.boot, 1)

	// Corrupt the payload after signing (re-erase the body and rewrite it
	// with one flipped byte) so verification fails, with no BACKUP
	// available in UPDATE to fall back to.
	bodyLen := f.boot.Area.BodySize()
	body := f.bootFlash.Contents(0, bodyLen)
	body[len(body)-1] ^= 0xFF
	if err := f.bootFlash.Erase(0, f.boot.Area.Size); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := f.bootFlash.Write(0, body); err != nil {
		t.Fatalf("Write: %v", err)
	}

	p := f.newPolicy(Config{UpdateMode: ModeSwap, HeaderSize: policyTestHeaderSize})
	if _, err := p.Run(); err == nil {
		t.Error("expected Run to reject a corrupted BOOT image with no backup")
	}
}
