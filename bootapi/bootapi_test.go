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

package bootapi

import (
	"testing"

	"secureboot.dev/bootloader/container"
	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/halmock"
	"secureboot.dev/bootloader/keystore"
	"secureboot.dev/bootloader/partition"
)

const testHeaderSize = 256

func newTestContext(t *testing.T, version uint32) (*BootContext, *partition.Partition) {
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

	builder := &container.Builder{
		HeaderSize: testHeaderSize,
		ImageType:  0x0001,
		Version:    version,
		PubKeyHint: hint,
	}
	payload := []byte("firmware bytes")
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
	hasher.Write(imageBytes)
	digest := hasher.Sum()
	if err := container.FillTlv(imageBytes, testHeaderSize, container.TagDigest, digest); err != nil {
		t.Fatalf("FillTlv(digest): %v", err)
	}
	sig, err := (cryptohal.StdlibSigner{}).Sign(cryptohal.AlgECDSAP256, priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := container.FillTlv(imageBytes, testHeaderSize, container.TagSignature, sig); err != nil {
		t.Fatalf("FillTlv(signature): %v", err)
	}

	areaSize := uint32(4 * 4096)
	flash := halmock.NewFlash(int(areaSize), 0xFF, 4096, 4)
	if err := flash.Erase(0, areaSize); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := flash.Write(0, imageBytes); err != nil {
		t.Fatalf("Write: %v", err)
	}

	boot := &partition.Partition{
		Area:  partition.Area{Role: partition.RoleBoot, Offset: 0, Size: areaSize, SectorSize: 4096},
		Flash: flash,
	}
	update := &partition.Partition{
		Area:  partition.Area{Role: partition.RoleUpdate, Offset: 0, Size: areaSize, SectorSize: 4096},
		Flash: halmock.NewFlash(int(areaSize), 0xFF, 4096, 4),
	}

	store := keystore.New([]keystore.Entry{{
		Algorithm:      cryptohal.AlgECDSAP256,
		PubKeyHash:     hint,
		PubKey:         pubBytes,
		PermissionMask: 0xFFFFFFFF,
	}})

	ctx := &BootContext{
		Boot:       boot,
		Update:     update,
		Store:      store,
		Crypto:     provider,
		HeaderSize: testHeaderSize,
	}
	return ctx, boot
}

func TestCurrentFirmwareVersionAndVerify(t *testing.T) {
	ctx, _ := newTestContext(t, 42)

	v, err := ctx.CurrentFirmwareVersion()
	if err != nil {
		t.Fatalf("CurrentFirmwareVersion: %v", err)
	}
	if v != 42 {
		t.Errorf("CurrentFirmwareVersion = %d, want 42", v)
	}

	img, err := ctx.OpenImage(ctx.Boot)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	if err := ctx.VerifyIntegrity(img); err != nil {
		t.Errorf("VerifyIntegrity: %v", err)
	}
	if err := ctx.VerifyAuthenticity(img); err != nil {
		t.Errorf("VerifyAuthenticity: %v", err)
	}
}

func TestUpdateFirmwareVersionNoImage(t *testing.T) {
	ctx, _ := newTestContext(t, 1)
	// UPDATE was left erased (no valid image); must report 0, not error.
	if v := ctx.UpdateFirmwareVersion(); v != 0 {
		t.Errorf("UpdateFirmwareVersion = %d, want 0 for an empty partition", v)
	}
}

func TestSuccessAndUpdateTriggerAreIdempotent(t *testing.T) {
	ctx, boot := newTestContext(t, 1)

	if err := ctx.Success(); err != nil {
		t.Fatalf("Success: %v", err)
	}
	state, _, err := boot.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state != partition.StateSuccess {
		t.Fatalf("state = %s, want SUCCESS", state)
	}

	// Calling Success again on an already-SUCCESS boot must not error
	// (monotonic no-op), per spec.md §8 property 4.
	if err := ctx.Success(); err != nil {
		t.Errorf("second Success call errored: %v", err)
	}

	if err := ctx.UpdateTrigger(); err != nil {
		t.Fatalf("UpdateTrigger: %v", err)
	}
	ustate, _, err := ctx.Update.ReadState()
	if err != nil {
		t.Fatalf("ReadState(update): %v", err)
	}
	if ustate != partition.StateUpdating {
		t.Fatalf("update state = %s, want UPDATING", ustate)
	}
	if err := ctx.UpdateTrigger(); err != nil {
		t.Errorf("second UpdateTrigger call errored: %v", err)
	}
}

// TestUpdateTriggerRearmsAfterConsumedCycle models triggering a second
// update after bootpolicy.consumeUpdateTrigger left UPDATE at SUCCESS
// from a previous, already-finalized cycle, with both trailers' sector
// flags still at UPDATED/BACKUP. Writing UPDATING directly there would
// violate invariant I4; UpdateTrigger must erase both trailers first.
func TestUpdateTriggerRearmsAfterConsumedCycle(t *testing.T) {
	ctx, boot := newTestContext(t, 1)

	if err := boot.WriteState(partition.StateTesting); err != nil {
		t.Fatalf("WriteState(boot, TESTING): %v", err)
	}
	if err := boot.WriteSectorFlag(0, partition.FlagUpdated); err != nil {
		t.Fatalf("WriteSectorFlag(boot): %v", err)
	}
	if err := ctx.Update.WriteState(partition.StateUpdating); err != nil {
		t.Fatalf("WriteState(update, UPDATING): %v", err)
	}
	if err := ctx.Update.WriteSectorFlag(0, partition.FlagBackup); err != nil {
		t.Fatalf("WriteSectorFlag(update): %v", err)
	}
	// Simulate bootpolicy.consumeUpdateTrigger having already run.
	if err := ctx.Update.WriteState(partition.StateSuccess); err != nil {
		t.Fatalf("WriteState(update, SUCCESS): %v", err)
	}

	if err := ctx.UpdateTrigger(); err != nil {
		t.Fatalf("UpdateTrigger after a consumed cycle: %v", err)
	}

	ustate, _, err := ctx.Update.ReadState()
	if err != nil {
		t.Fatalf("ReadState(update): %v", err)
	}
	if ustate != partition.StateUpdating {
		t.Errorf("update state = %s, want UPDATING", ustate)
	}

	bf, err := boot.ReadSectorFlag(0)
	if err != nil {
		t.Fatalf("ReadSectorFlag(boot): %v", err)
	}
	if bf != partition.FlagNew {
		t.Errorf("boot sector 0 flag = %s, want NEW after re-arm", bf)
	}
	uf, err := ctx.Update.ReadSectorFlag(0)
	if err != nil {
		t.Fatalf("ReadSectorFlag(update): %v", err)
	}
	if uf != partition.FlagNew {
		t.Errorf("update sector 0 flag = %s, want NEW after re-arm", uf)
	}
}

func TestErasePartitionResetsState(t *testing.T) {
	ctx, boot := newTestContext(t, 1)
	if err := ctx.Success(); err != nil {
		t.Fatalf("Success: %v", err)
	}
	if err := ctx.ErasePartition(boot); err != nil {
		t.Fatalf("ErasePartition: %v", err)
	}
	state, valid, err := boot.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if valid || state != partition.StateNew {
		t.Errorf("after erase: state=%s valid=%v, want NEW/false", state, valid)
	}
}
