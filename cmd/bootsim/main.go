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

// Command bootsim is an interactive shell over an in-memory BOOT/
// UPDATE/SWAP flash layout (halmock), built to walk through the
// example scenarios of spec.md §8 (fresh boot, normal update, power
// cut mid-swap, bad signature with rollback) without real hardware.
// The simulated policy leaves anti-rollback off. Commands are tokenized with shellquote.Split,
// the same library the teacher's builder.execExtCmds uses to parse a
// user-supplied command string.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"secureboot.dev/bootloader/bootapi"
	"secureboot.dev/bootloader/bootpolicy"
	"secureboot.dev/bootloader/container"
	"secureboot.dev/bootloader/cryptohal"
	"secureboot.dev/bootloader/halmock"
	"secureboot.dev/bootloader/keystore"
	"secureboot.dev/bootloader/partition"
	"secureboot.dev/bootloader/swap"
	"secureboot.dev/bootloader/util"
)

const (
	simAreaSize   = 64 * 1024
	simSectorSize = 4 * 1024
	simWriteGran  = 4
	simHeaderSize = 256
	simEraseVal   = 0xFF

	// simScratchSectorSize must hold scratchHeaderSize(16) + one full
	// BOOT/UPDATE body sector; on real hardware the scratch region's
	// own erase sector is sized for this, independent of BOOT/UPDATE's
	// sector size.
	simScratchSectorSize = 8 * 1024
)

// sim bundles every piece of state one interactive session threads
// through: three flash devices standing in for BOOT/UPDATE/SWAP, the
// keystore and signing key backing them, and the last reset's Outcome.
type sim struct {
	bootFlash    *halmock.Flash
	updateFlash  *halmock.Flash
	scratchFlash *halmock.Flash
	scratch      partition.Area

	boot   *partition.Partition
	update *partition.Partition

	store  *keystore.Store
	crypto cryptohal.Provider

	bootHAL  *halmock.Boot
	watchdog *halmock.Watchdog

	signKey interface{}
	signAlg cryptohal.Algorithm
	keyHint [keystore.HintSize]byte
	lastOut *bootpolicy.Outcome
}

func newSim() *sim {
	s := &sim{
		bootFlash:    halmock.NewFlash(simAreaSize, simEraseVal, simSectorSize, simWriteGran),
		updateFlash:  halmock.NewFlash(simAreaSize, simEraseVal, simSectorSize, simWriteGran),
		scratchFlash: halmock.NewFlash(simScratchSectorSize, simEraseVal, simScratchSectorSize, simWriteGran),
		scratch:      partition.Area{Role: partition.RoleScratch, Offset: 0, Size: simScratchSectorSize, SectorSize: simScratchSectorSize},
		crypto:       cryptohal.StdlibProvider{},
		bootHAL:      &halmock.Boot{},
		watchdog:     &halmock.Watchdog{},
	}
	s.boot = &partition.Partition{
		Area:  partition.Area{Role: partition.RoleBoot, Offset: 0, Size: simAreaSize, SectorSize: simSectorSize},
		Flash: s.bootFlash,
	}
	s.update = &partition.Partition{
		Area:  partition.Area{Role: partition.RoleUpdate, Offset: 0, Size: simAreaSize, SectorSize: simSectorSize},
		Flash: s.updateFlash,
	}
	return s
}

func (s *sim) newEngine() swap.Engine {
	return &swap.SoftwareEngine{
		Boot:         s.boot,
		Update:       s.update,
		Scratch:      s.scratch,
		ScratchFlash: s.scratchFlash,
		Watchdog:     s.watchdog,
	}
}

func (s *sim) bootContext() *bootapi.BootContext {
	return &bootapi.BootContext{
		Boot:       s.boot,
		Update:     s.update,
		Store:      s.store,
		Crypto:     s.crypto,
		HeaderSize: simHeaderSize,
	}
}

func (s *sim) policy() *bootpolicy.Policy {
	return &bootpolicy.Policy{
		Boot:          s.boot,
		Update:        s.update,
		Store:         s.store,
		Crypto:        s.crypto,
		BootHAL:       s.bootHAL,
		Watchdog:      s.watchdog,
		Config:        bootpolicy.Config{UpdateMode: bootpolicy.ModeSwap, HeaderSize: simHeaderSize},
		NewSwapEngine: s.newEngine,
	}
}

// signImage builds, hashes and signs a VERSION-stamped image, mirroring
// cmd/bootsign's pipeline but kept in-process so the REPL never shells
// out to another binary.
func (s *sim) signImage(version uint32, payload []byte) ([]byte, error) {
	builder := &container.Builder{
		HeaderSize: simHeaderSize,
		ImageType:  0,
		Version:    version,
		PubKeyHint: s.keyHint,
	}
	digestLen := uint32(cryptohal.HashLen(cryptohal.HashSHA256))
	sigLen := cryptohal.MaxSigLen(s.signAlg)

	img, err := builder.Build(payload, digestLen, sigLen, 0)
	if err != nil {
		return nil, err
	}

	hasher, err := s.crypto.NewHasher(cryptohal.HashSHA256)
	if err != nil {
		return nil, err
	}
	hasher.Write(img)
	digest := hasher.Sum()
	if err := container.FillTlv(img, simHeaderSize, container.TagDigest, digest); err != nil {
		return nil, err
	}

	signer := cryptohal.StdlibSigner{}
	sig, err := signer.Sign(s.signAlg, s.signKey, digest)
	if err != nil {
		return nil, err
	}
	if err := container.FillTlv(img, simHeaderSize, container.TagSignature, sig); err != nil {
		return nil, err
	}
	return img, nil
}

func (s *sim) cmdKeygen(args []string) error {
	priv, err := cryptohal.StdlibKeygen(cryptohal.AlgECDSAP256)
	if err != nil {
		return err
	}
	pub, err := cryptohal.PublicKeyBytesFor(priv)
	if err != nil {
		return err
	}
	s.signKey = priv
	s.signAlg = cryptohal.AlgECDSAP256
	s.keyHint = keystore.KeyHash(pub)
	s.store = keystore.New([]keystore.Entry{
		{Algorithm: s.signAlg, PubKeyHash: s.keyHint, PubKey: pub, PermissionMask: 0xFFFFFFFF},
	})
	fmt.Printf("generated ecdsa-p256 key, hint=%x\n", s.keyHint)
	return nil
}

func (s *sim) cmdFlash(args []string) error {
	if len(args) < 2 {
		return util.FmtBootError(util.KindFatal, "usage: flash <boot|update> <version>")
	}
	version, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return util.FmtChildBootError(util.KindFatal, err, "bad version")
	}

	payload := []byte(fmt.Sprintf("firmware payload v%d", version))
	img, err := s.signImage(uint32(version), payload)
	if err != nil {
		return err
	}

	var p *partition.Partition
	switch args[0] {
	case "boot":
		p = s.boot
	case "update":
		p = s.update
	default:
		return util.FmtBootError(util.KindFatal, "unknown target %q", args[0])
	}

	if err := p.Flash.Erase(p.Area.Offset, p.Area.Size); err != nil {
		return err
	}
	if err := p.Flash.TryProgram(p.Area.Offset, img); err != nil {
		return err
	}
	if err := p.Flash.Write(p.Area.Offset, img); err != nil {
		return err
	}
	fmt.Printf("flashed %s with version %d (%d bytes)\n", args[0], version, len(img))
	return nil
}

func (s *sim) cmdCorrupt(args []string) error {
	if len(args) < 1 {
		return util.FmtBootError(util.KindFatal, "usage: corrupt <boot|update>")
	}
	var p *partition.Partition
	switch args[0] {
	case "boot":
		p = s.boot
	case "update":
		p = s.update
	default:
		return util.FmtBootError(util.KindFatal, "unknown target %q", args[0])
	}
	buf := make([]byte, 1)
	if err := p.Flash.Read(p.Area.Offset+simHeaderSize+8, buf); err != nil {
		return err
	}
	buf[0] &= buf[0] - 1 // clear the lowest set bit: a 1->0 change only
	if err := p.Flash.TryProgram(p.Area.Offset+simHeaderSize+8, buf); err == nil {
		if err := p.Flash.Write(p.Area.Offset+simHeaderSize+8, buf); err != nil {
			return err
		}
		fmt.Printf("corrupted one payload byte of %s\n", args[0])
		return nil
	}
	// Flipping 1-bits to 0 never needs an erase; this always succeeds
	// against a just-flashed image, so TryProgram failing here would
	// indicate a genuinely unexpected flash state.
	return util.FmtBootError(util.KindFatal, "could not corrupt %s in place", args[0])
}

func (s *sim) cmdTrigger(args []string) error {
	return s.bootContext().UpdateTrigger()
}

func (s *sim) cmdConfirm(args []string) error {
	return s.bootContext().Success()
}

// cmdPowerCut arms or disarms the power-cut injector ahead of the next
// "reset": with n >= 0, each of the three simulated flash devices
// allows n more Write/Erase calls and fails every call after them, and
// -1 disarms it so the following reset runs to completion - letting a scenario script do "powercut 5", "reset"
// (interrupted), "powercut -1", "reset" (resumes and finishes).
func (s *sim) cmdPowerCut(args []string) error {
	if len(args) < 1 {
		return util.FmtBootError(util.KindFatal, "usage: powercut <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return util.FmtChildBootError(util.KindFatal, err, "bad op count")
	}
	s.bootFlash.SetOpBudget(n)
	s.updateFlash.SetOpBudget(n)
	s.scratchFlash.SetOpBudget(n)
	if n < 0 {
		fmt.Println("power cut disarmed")
	} else {
		fmt.Printf("armed power cut after %d flash ops\n", n)
	}
	return nil
}

func (s *sim) cmdReset(args []string) error {
	out, err := s.policy().Run()
	if err != nil {
		fmt.Printf("boot FAILED: %s\n", err.Error())
		s.bootHAL.Halt(err)
		return nil
	}
	s.lastOut = out
	fmt.Printf("booted %s version=%d swap_ran=%t rolled_back=%t restored_after=%v\n",
		out.BootedRole, out.Version, out.SwapRan, out.RolledBack, out.RestoredAfter)
	s.bootHAL.Jump(s.boot.Area.Offset)
	return nil
}

func (s *sim) cmdStatus(args []string) error {
	bootState, _, _ := s.boot.ReadState()
	updState, _, _ := s.update.ReadState()
	fmt.Printf("BOOT.state=%s UPDATE.state=%s watchdog_fed=%d jumps=%v\n",
		bootState, updState, s.watchdog.Fed, s.bootHAL.JumpedTo)
	return nil
}

func (s *sim) dispatch(toks []string) error {
	if len(toks) == 0 {
		return nil
	}
	switch toks[0] {
	case "keygen":
		return s.cmdKeygen(toks[1:])
	case "flash":
		return s.cmdFlash(toks[1:])
	case "corrupt":
		return s.cmdCorrupt(toks[1:])
	case "trigger":
		return s.cmdTrigger(toks[1:])
	case "confirm":
		return s.cmdConfirm(toks[1:])
	case "powercut":
		return s.cmdPowerCut(toks[1:])
	case "reset":
		return s.cmdReset(toks[1:])
	case "status":
		return s.cmdStatus(toks[1:])
	case "help":
		fmt.Println("commands: keygen, flash <boot|update> <version>, corrupt <boot|update>, " +
			"trigger, confirm, powercut <n>, reset, status, help, quit")
		return nil
	case "quit", "exit":
		os.Exit(0)
	}
	return util.FmtBootError(util.KindFatal, "unknown command %q (try \"help\")", toks[0])
}

func (s *sim) runREPL(in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Print("bootsim> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			toks, err := shellquote.Split(line)
			if err != nil {
				fmt.Printf("Error: invalid command line: %s\n", err.Error())
			} else if err := s.dispatch(toks); err != nil {
				fmt.Printf("Error: %s\n", err.Error())
			}
		}
		fmt.Print("bootsim> ")
	}
	fmt.Println()
}

func main() {
	var logLevelName string
	rootCmd := &cobra.Command{
		Use:   "bootsim",
		Short: "bootsim is an interactive simulator for the bootloader's reset-time decision sequence",
		Run: func(cmd *cobra.Command, args []string) {
			level, err := log.ParseLevel(logLevelName)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
				os.Exit(1)
			}
			if err := util.Init(level, "", util.VERBOSITY_DEFAULT); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
				os.Exit(1)
			}

			s := newSim()
			if err := s.cmdKeygen(nil); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
				os.Exit(1)
			}
			s.runREPL(os.Stdin)
		},
	}
	rootCmd.Flags().StringVarP(&logLevelName, "loglevel", "l", "WARN", "Log level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}
