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

// Command bootcfggen turns a partition layout YAML file and a set of
// build options into a generated Go source file declaring the
// compile-time partition.Area/config.BootConfig values a target links
// in directly, the same write-if-changed codegen idiom the teacher's
// newt/flashmap.EnsureFlashMapWritten uses for sysflash.c/.h - only
// targeting Go source instead of a C header/source pair, since this
// module's BootConfig is consumed by Go code, not C.
package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"secureboot.dev/bootloader/config"
	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/partition"
	"secureboot.dev/bootloader/util"
)

var (
	optLayoutFile   string
	optOutFile      string
	optPackageName  string
	optUpdateMode   string
	optAntiRollback string
	optHashName     string
	optKeystoreSize int
	optHeaderSize   uint32
	optHybrid       bool
	optDelta        bool
	optEncryption   string
	optLogLevelName string
)

func bootcfggenUsage(cmd *cobra.Command, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}
	if cmd != nil {
		fmt.Printf("%s - ", cmd.Name())
		cmd.Help()
	}
	os.Exit(1)
}

func updateModeFromName(name string) (config.UpdateMode, error) {
	switch name {
	case "swap", "":
		return config.UpdateSwap, nil
	case "direct":
		return config.UpdateDirect, nil
	case "dualbank":
		return config.UpdateDualBankHW, nil
	default:
		return 0, util.FmtBootError(util.KindFatal, "unrecognized update mode %q", name)
	}
}

func antiRollbackFromName(name string) (config.AntiRollbackMode, error) {
	switch name {
	case "off", "":
		return config.AntiRollbackOff, nil
	case "otp-counter":
		return config.AntiRollbackOTPCounter, nil
	case "locked-sector":
		return config.AntiRollbackLockedSector, nil
	default:
		return 0, util.FmtBootError(util.KindFatal, "unrecognized anti-rollback mode %q", name)
	}
}

func encryptionFromName(name string) (config.EncryptionMode, error) {
	switch name {
	case "none", "":
		return config.EncryptNone, nil
	case "aes-ctr":
		return config.EncryptAESCTR, nil
	case "chacha20":
		return config.EncryptChaCha20, nil
	default:
		return 0, util.FmtBootError(util.KindFatal, "unrecognized encryption mode %q", name)
	}
}

func hashAlgFromName(name string) (cryptohal.HashAlg, error) {
	switch name {
	case "sha256", "":
		return cryptohal.HashSHA256, nil
	case "sha384":
		return cryptohal.HashSHA384, nil
	case "sha3-384":
		return cryptohal.HashSHA3_384, nil
	default:
		return cryptohal.HashUnknown, util.FmtBootError(util.KindFatal,
			"unrecognized hash algorithm %q", name)
	}
}

func roleOrder(areas map[partition.Role]partition.Area) []partition.Role {
	roles := make([]partition.Role, 0, len(areas))
	for r := range areas {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

func hashAlgExpr(name string) string {
	switch name {
	case "sha384":
		return "cryptohal.HashSHA384"
	case "sha3-384":
		return "cryptohal.HashSHA3_384"
	default:
		return "cryptohal.HashSHA256"
	}
}

func writeGeneratedSource(buf *bytes.Buffer, layout *config.PartitionLayout, cfg config.BootConfig) {
	fmt.Fprintf(buf, "// Code generated by bootcfggen. DO NOT EDIT.\n\n")
	fmt.Fprintf(buf, "package %s\n\n", optPackageName)
	fmt.Fprintf(buf, "import (\n")
	fmt.Fprintf(buf, "\t\"secureboot.dev/bootloader/config\"\n")
	fmt.Fprintf(buf, "\t\"secureboot.dev/bootloader/cryptohal\"\n")
	fmt.Fprintf(buf, "\t\"secureboot.dev/bootloader/partition\"\n")
	fmt.Fprintf(buf, ")\n\n")

	fmt.Fprintf(buf, "var Layout = config.PartitionLayout{\n")
	fmt.Fprintf(buf, "\tAreas: map[partition.Role]partition.Area{\n")
	for _, role := range roleOrder(layout.Areas) {
		area := layout.Areas[role]
		fmt.Fprintf(buf, "\t\tpartition.%s: {\n", roleConstName(role))
		fmt.Fprintf(buf, "\t\t\tRole:       partition.%s,\n", roleConstName(role))
		fmt.Fprintf(buf, "\t\t\tOffset:     0x%08x,\n", area.Offset)
		fmt.Fprintf(buf, "\t\t\tSize:       %d, // %s\n", area.Size, sizeComment(area.Size))
		fmt.Fprintf(buf, "\t\t\tSectorSize: %d,\n", area.SectorSize)
		fmt.Fprintf(buf, "\t\t},\n")
	}
	fmt.Fprintf(buf, "\t},\n")
	fmt.Fprintf(buf, "}\n\n")

	fmt.Fprintf(buf, "var Config = config.BootConfig{\n")
	fmt.Fprintf(buf, "\tTrailerMode:   config.TrailerInline,\n")
	fmt.Fprintf(buf, "\tUpdateModeCfg: config.%s,\n", updateModeConstName(cfg.UpdateModeCfg))
	fmt.Fprintf(buf, "\tEncryption:    config.%s,\n", encryptionConstName(cfg.Encryption))
	fmt.Fprintf(buf, "\tHash:          %s,\n", hashAlgExpr(optHashName))
	fmt.Fprintf(buf, "\tKeystoreSize:  %d,\n", cfg.KeystoreSize)
	fmt.Fprintf(buf, "\tAntiRollback:  config.%s,\n", antiRollbackConstName(cfg.AntiRollback))
	fmt.Fprintf(buf, "\tDeltaUpdates:  %t,\n", cfg.DeltaUpdates)
	fmt.Fprintf(buf, "\tHybridSigning: %t,\n", cfg.HybridSigning)
	fmt.Fprintf(buf, "\tHeaderSize:    %d,\n", cfg.HeaderSize)
	fmt.Fprintf(buf, "}\n")
}

func roleConstName(r partition.Role) string {
	switch r {
	case partition.RoleBoot:
		return "RoleBoot"
	case partition.RoleUpdate:
		return "RoleUpdate"
	case partition.RoleScratch:
		return "RoleScratch"
	default:
		return "RoleBoot"
	}
}

func updateModeConstName(m config.UpdateMode) string {
	switch m {
	case config.UpdateDirect:
		return "UpdateDirect"
	case config.UpdateDualBankHW:
		return "UpdateDualBankHW"
	default:
		return "UpdateSwap"
	}
}

func antiRollbackConstName(m config.AntiRollbackMode) string {
	switch m {
	case config.AntiRollbackOTPCounter:
		return "AntiRollbackOTPCounter"
	case config.AntiRollbackLockedSector:
		return "AntiRollbackLockedSector"
	default:
		return "AntiRollbackOff"
	}
}

func encryptionConstName(m config.EncryptionMode) string {
	switch m {
	case config.EncryptAESCTR:
		return "EncryptAESCTR"
	case config.EncryptChaCha20:
		return "EncryptChaCha20"
	default:
		return "EncryptNone"
	}
}

func sizeComment(size uint32) string {
	if size%1024 != 0 {
		return ""
	}
	return fmt.Sprintf("%d kB", size/1024)
}

func runGenCmd(cmd *cobra.Command, args []string) {
	layoutData, err := os.ReadFile(optLayoutFile)
	if err != nil {
		bootcfggenUsage(cmd, util.FmtChildBootError(util.KindFatal, err,
			"failed to read layout file %s", optLayoutFile))
	}

	layout, err := config.LoadPartitionLayout(layoutData)
	if err != nil {
		bootcfggenUsage(cmd, err)
	}

	updateMode, err := updateModeFromName(optUpdateMode)
	if err != nil {
		bootcfggenUsage(cmd, err)
	}
	antiRollback, err := antiRollbackFromName(optAntiRollback)
	if err != nil {
		bootcfggenUsage(cmd, err)
	}
	encryption, err := encryptionFromName(optEncryption)
	if err != nil {
		bootcfggenUsage(cmd, err)
	}
	hashAlg, err := hashAlgFromName(optHashName)
	if err != nil {
		bootcfggenUsage(cmd, err)
	}

	cfg := config.BootConfig{
		TrailerMode:   config.TrailerInline,
		UpdateModeCfg: updateMode,
		Encryption:    encryption,
		Hash:          hashAlg,
		KeystoreSize:  optKeystoreSize,
		AntiRollback:  antiRollback,
		DeltaUpdates:  optDelta,
		HybridSigning: optHybrid,
		HeaderSize:    optHeaderSize,
	}
	if err := cfg.Validate(); err != nil {
		bootcfggenUsage(cmd, err)
	}

	var buf bytes.Buffer
	writeGeneratedSource(&buf, layout, cfg)

	writeReqd, err := util.FileContentsChanged(optOutFile, buf.Bytes())
	if err != nil {
		bootcfggenUsage(cmd, err)
	}
	if !writeReqd {
		log.Debugf("generated config unchanged; not writing file (%s)", optOutFile)
		return
	}

	if err := os.WriteFile(optOutFile, buf.Bytes(), 0644); err != nil {
		bootcfggenUsage(cmd, util.FmtChildBootError(util.KindFatal, err,
			"failed to write generated config %s", optOutFile))
	}

	fmt.Printf("Generated %s (%d partitions)\n", optOutFile, len(layout.Areas))
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "bootcfggen",
		Short: "bootcfggen generates compile-time partition layout and build config from a layout YAML file",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, err := log.ParseLevel(optLogLevelName)
			if err != nil {
				bootcfggenUsage(nil, err)
			}
			if err := util.Init(level, "", util.VERBOSITY_DEFAULT); err != nil {
				bootcfggenUsage(nil, err)
			}
		},
		Run: runGenCmd,
	}
	rootCmd.PersistentFlags().StringVarP(&optLogLevelName, "loglevel", "l", "WARN", "Log level")
	rootCmd.Flags().StringVar(&optLayoutFile, "layout", "", "Partition layout YAML file (required)")
	rootCmd.Flags().StringVarP(&optOutFile, "out", "o", "bootconfig_gen.go", "Output Go file")
	rootCmd.Flags().StringVar(&optPackageName, "package", "target", "Generated file's package name")
	rootCmd.Flags().StringVar(&optUpdateMode, "update-mode", "swap", "swap, direct, or dualbank")
	rootCmd.Flags().StringVar(&optAntiRollback, "anti-rollback", "off", "off, otp-counter, or locked-sector")
	rootCmd.Flags().StringVar(&optEncryption, "encryption", "none", "none, aes-ctr, or chacha20")
	rootCmd.Flags().StringVar(&optHashName, "hash", "sha256", "sha256, sha384, or sha3-384")
	rootCmd.Flags().IntVar(&optKeystoreSize, "keystore-size", 1, "Number of compiled-in trusted keys")
	rootCmd.Flags().Uint32Var(&optHeaderSize, "header-size", 256, "Reserved container header size in bytes")
	rootCmd.Flags().BoolVar(&optHybrid, "hybrid-signing", false, "Require classical+PQ hybrid signatures")
	rootCmd.Flags().BoolVar(&optDelta, "delta-updates", false, "Enable delta/patch update support")
	rootCmd.MarkFlagRequired("layout")

	if err := rootCmd.Execute(); err != nil {
		bootcfggenUsage(nil, util.FmtChildBootError(util.KindFatal, err, "command failed"))
	}
}
