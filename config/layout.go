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

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"secureboot.dev/bootloader/partition"
	"secureboot.dev/bootloader/util"
	"secureboot.dev/bootloader/yaml"
)

// PartitionLayout is the set of flash areas a target's partition.Area
// values are generated from, keyed by role. This generalizes the
// teacher's flashmap.FlashMap (a name-keyed map of FlashArea) to the
// three fixed roles spec.md §3.2 names.
type PartitionLayout struct {
	Areas map[partition.Role]partition.Area
}

func roleFromYAMLKey(key string) (partition.Role, bool) {
	switch strings.ToLower(key) {
	case "boot":
		return partition.RoleBoot, true
	case "update":
		return partition.RoleUpdate, true
	case "scratch", "swap":
		return partition.RoleScratch, true
	default:
		return 0, false
	}
}

func layoutErr(roleName string, format string, args ...interface{}) error {
	return util.FmtBootError(util.KindFatal,
		"failure while parsing partition \"%s\": %s", roleName, fmt.Sprintf(format, args...))
}

// parseSize accepts a bare decimal/hex integer or one suffixed with
// "kb"/"mb", the same convention the teacher's flashmap.parseSize
// supports for flash_map.yml.
func parseSize(val string) (uint32, error) {
	lower := strings.ToLower(strings.TrimSpace(val))

	multiplier := uint32(1)
	switch {
	case strings.HasSuffix(lower, "kb"):
		multiplier = 1024
		lower = strings.TrimSuffix(lower, "kb")
	case strings.HasSuffix(lower, "mb"):
		multiplier = 1024 * 1024
		lower = strings.TrimSuffix(lower, "mb")
	}

	n, err := util.AtoiNoOct(lower)
	if err != nil {
		return 0, err
	}
	return uint32(n) * multiplier, nil
}

// LoadPartitionLayout parses a YAML document of the form:
//
//	boot:
//	    offset: 0x08000
//	    size: 128kb
//	    sector_size: 4kb
//	update:
//	    offset: 0x28000
//	    size: 128kb
//	    sector_size: 4kb
//	scratch:
//	    offset: 0x48000
//	    size: 4kb
//	    sector_size: 4kb
//
// into a PartitionLayout, the same shape and error-handling style as
// the teacher's flashmap.Read over flash_map.yml.
func LoadPartitionLayout(data []byte) (*PartitionLayout, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, raw); err != nil {
		return nil, util.FmtChildBootError(util.KindFatal, err,
			"failed to parse partition layout YAML")
	}

	layout := &PartitionLayout{Areas: map[partition.Role]partition.Area{}}

	for key, val := range raw {
		role, ok := roleFromYAMLKey(key)
		if !ok {
			util.StatusMessage(util.VERBOSITY_QUIET,
				"Warning: partition layout contains unrecognized section: %s\n", key)
			continue
		}

		fields := cast.ToStringMapString(val)

		area := partition.Area{Role: role}

		offsetStr, ok := fields["offset"]
		if !ok {
			return nil, layoutErr(key, "required field \"offset\" missing")
		}
		offset, err := parseSize(offsetStr)
		if err != nil {
			return nil, layoutErr(key, "invalid offset: %s", offsetStr)
		}
		area.Offset = offset

		sizeStr, ok := fields["size"]
		if !ok {
			return nil, layoutErr(key, "required field \"size\" missing")
		}
		size, err := parseSize(sizeStr)
		if err != nil {
			return nil, layoutErr(key, "invalid size: %s", sizeStr)
		}
		area.Size = size

		sectorStr, ok := fields["sector_size"]
		if !ok {
			return nil, layoutErr(key, "required field \"sector_size\" missing")
		}
		sectorSize, err := parseSize(sectorStr)
		if err != nil {
			return nil, layoutErr(key, "invalid sector_size: %s", sectorStr)
		}
		area.SectorSize = sectorSize

		layout.Areas[role] = area
	}

	if err := layout.validateNoOverlap(); err != nil {
		return nil, err
	}

	return layout, nil
}

// validateNoOverlap rejects a layout whose areas overlap in address
// space, the same class of check the teacher's flash.DetectErrors
// performs over a set of FlashArea values.
func (l *PartitionLayout) validateNoOverlap() error {
	type span struct {
		role       partition.Role
		start, end uint32
	}
	var spans []span
	for role, area := range l.Areas {
		spans = append(spans, span{role, area.Offset, area.Offset + area.Size})
	}

	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.start < b.end && b.start < a.end {
				return util.FmtBootError(util.KindFatal,
					"partitions %s and %s overlap", a.role, b.role)
			}
		}
	}
	return nil
}
