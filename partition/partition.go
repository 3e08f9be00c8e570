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

// Package partition models the flash-region layout of spec.md §3.2: a
// named, addressed area of flash (generalized from the teacher's
// artifact/flash.FlashArea) plus the trailer format of §4.5/§6.2 - the
// per-partition STATE byte and per-sector flag nibbles that let the
// swap engine survive power loss.
package partition

import (
	"secureboot.dev/bootloader/hal"
	"secureboot.dev/bootloader/util"
)

// Role identifies which of the three flash regions spec.md §3.2 names a
// partition plays.
type Role int

const (
	RoleBoot Role = iota
	RoleUpdate
	RoleScratch
)

func (r Role) String() string {
	switch r {
	case RoleBoot:
		return "BOOT"
	case RoleUpdate:
		return "UPDATE"
	case RoleScratch:
		return "SWAP"
	default:
		return "UNKNOWN"
	}
}

// Area is a contiguous flash region, addressed on a Flash HAL, that
// plays one Role. It mirrors the teacher's FlashArea (Name/Id/Offset/
// Size) narrowed to the fields spec.md's partition model actually
// needs.
type Area struct {
	Role       Role
	Offset     uint32
	Size       uint32
	SectorSize uint32
}

// NumSectors returns the number of erase sectors covering the whole
// area, including the trailer's containing sector.
func (a Area) NumSectors() uint32 {
	return a.Size / a.SectorSize
}

// BodySize is the portion of the area available to image payload and
// header, i.e. everything before the trailer's containing sector.
func (a Area) BodySize() uint32 {
	return a.Size - a.SectorSize
}

// Partition binds an Area to the Flash HAL instance that backs it,
// and exposes the trailer operations of spec.md §4.5.
type Partition struct {
	Area  Area
	Flash hal.Flash
}

func (p *Partition) addr(offset uint32) uint32 {
	return p.Area.Offset + offset
}

func badFlash(format string, args ...interface{}) error {
	return util.FmtBootError(util.KindTransientFlash, format, args...)
}
