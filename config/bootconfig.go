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

// Package config collects the build-time choices spec.md §9 replaces a
// "forest of preprocessor macros" with: a small BootConfig record of
// enumerated options, plus the partition layout those options are
// checked against. Both are ordinarily generated once per target by
// cmd/bootcfggen from a YAML description, the way the teacher's
// newt/flashmap package generates sysflash.h from flash_map.yml.
package config

import (
	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/util"
)

type TrailerMode int

const (
	TrailerInline TrailerMode = iota
	TrailerDedicatedSector
)

type UpdateMode int

const (
	UpdateSwap UpdateMode = iota
	UpdateDirect
	UpdateDualBankHW
)

type EncryptionMode int

const (
	EncryptNone EncryptionMode = iota
	EncryptAESCTR
	EncryptChaCha20
)

type AntiRollbackMode int

const (
	AntiRollbackOff AntiRollbackMode = iota
	AntiRollbackOTPCounter
	AntiRollbackLockedSector
)

// BootConfig is the full enumeration from spec.md §9's Design Notes,
// gathered into one record supplied at build time instead of scattered
// preprocessor macros.
type BootConfig struct {
	TrailerMode   TrailerMode
	UpdateModeCfg UpdateMode
	Encryption    EncryptionMode
	SignatureAlg  cryptohal.Algorithm
	Hash          cryptohal.HashAlg
	KeystoreSize  int
	AntiRollback  AntiRollbackMode
	DeltaUpdates  bool
	HybridSigning bool
	HeaderSize    uint32
}

// Validate checks the internal consistency rules a generated BootConfig
// must satisfy - the same role flashmap.go's EnsureFlashMapWritten plays
// for a generated sysflash.h, but for semantic config rather than
// addresses.
func (c *BootConfig) Validate() error {
	if c.KeystoreSize < 1 || c.KeystoreSize > 16 {
		return util.FmtBootError(util.KindFatal,
			"keystore_size must be in 1..16, got %d", c.KeystoreSize)
	}
	if c.HeaderSize == 0 || c.HeaderSize%4 != 0 {
		return util.FmtBootError(util.KindFatal,
			"header_size must be a positive multiple of 4, got %d", c.HeaderSize)
	}
	return nil
}
