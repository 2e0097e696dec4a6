// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package rss

import (
	"fmt"
	"strings"

	"github.com/intel/ice-flow-classifier/pkg/ptype"
)

// Field is a bitmap of header fields fed to the RSS hash.
type Field uint64

const (
	FieldIPv4SA Field = 1 << iota
	FieldIPv4DA
	FieldIPv6SA
	FieldIPv6DA
	FieldTCPSrcPort
	FieldTCPDstPort
	FieldUDPSrcPort
	FieldUDPDstPort
	FieldSCTPSrcPort
	FieldSCTPDstPort
	FieldGREKeyID

	FieldNone Field = 0

	HashIPv4    = FieldIPv4SA | FieldIPv4DA
	HashIPv6    = FieldIPv6SA | FieldIPv6DA
	HashTCPPort = FieldTCPSrcPort | FieldTCPDstPort
	HashUDPPort = FieldUDPSrcPort | FieldUDPDstPort
	HashSCTPort = FieldSCTPSrcPort | FieldSCTPDstPort
)

// Protocol ids of the parser as used in extraction words.
const (
	protIPv4Outer uint8 = 32
	protIPv4Inner uint8 = 33
	protIPv6Outer uint8 = 40
	protIPv6Inner uint8 = 41
	protTCP       uint8 = 49
	protUDP       uint8 = 53
	protGRE       uint8 = 64
	protSCTP      uint8 = 96
)

// fieldInfo locates a hash field within its protocol header.
type fieldInfo struct {
	name  string
	hdr   ptype.Hdr
	outer uint8
	inner uint8
	off   uint16
	size  uint16
}

var fieldTable = map[Field]fieldInfo{
	FieldIPv4SA:      {"ipv4-sa", ptype.HdrIPv4, protIPv4Outer, protIPv4Inner, 12, 4},
	FieldIPv4DA:      {"ipv4-da", ptype.HdrIPv4, protIPv4Outer, protIPv4Inner, 16, 4},
	FieldIPv6SA:      {"ipv6-sa", ptype.HdrIPv6, protIPv6Outer, protIPv6Inner, 8, 16},
	FieldIPv6DA:      {"ipv6-da", ptype.HdrIPv6, protIPv6Outer, protIPv6Inner, 24, 16},
	FieldTCPSrcPort:  {"tcp-src-port", ptype.HdrTCP, protTCP, protTCP, 0, 2},
	FieldTCPDstPort:  {"tcp-dst-port", ptype.HdrTCP, protTCP, protTCP, 2, 2},
	FieldUDPSrcPort:  {"udp-src-port", ptype.HdrUDP, protUDP, protUDP, 0, 2},
	FieldUDPDstPort:  {"udp-dst-port", ptype.HdrUDP, protUDP, protUDP, 2, 2},
	FieldSCTPSrcPort: {"sctp-src-port", ptype.HdrSCTP, protSCTP, protSCTP, 0, 2},
	FieldSCTPDstPort: {"sctp-dst-port", ptype.HdrSCTP, protSCTP, protSCTP, 2, 2},
	FieldGREKeyID:    {"gre-key-id", ptype.HdrGRE, protGRE, protGRE, 12, 4},
}

// fieldAll is every field known to the hash layer.
const fieldAll = FieldGREKeyID<<1 - 1

// bits returns the set fields in ascending bit order.
func (f Field) bits() []Field {
	out := []Field{}
	for b := Field(1); b != 0 && b <= f; b <<= 1 {
		if f&b != 0 {
			out = append(out, b)
		}
	}
	return out
}

// headers returns the protocol headers the fields live in.
func (f Field) headers() ptype.Hdr {
	var h ptype.Hdr
	for _, b := range f.bits() {
		h |= fieldTable[b].hdr
	}
	return h
}

func (f Field) String() string {
	if f == FieldNone {
		return "none"
	}
	names := []string{}
	for _, b := range f.bits() {
		if fi, ok := fieldTable[b]; ok {
			names = append(names, fi.name)
		} else {
			names = append(names, fmt.Sprintf("0x%x", uint64(b)))
		}
	}
	return strings.Join(names, "|")
}

var fieldAliases = map[string]Field{
	"ipv4":       HashIPv4,
	"ipv6":       HashIPv6,
	"tcp-ports":  HashTCPPort,
	"udp-ports":  HashUDPPort,
	"sctp-ports": HashSCTPort,
}

// ParseField resolves a field name or one of the ipv4, ipv6, tcp-ports,
// udp-ports and sctp-ports aliases.
func ParseField(name string) (Field, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if f, ok := fieldAliases[name]; ok {
		return f, nil
	}
	for f, fi := range fieldTable {
		if fi.name == name {
			return f, nil
		}
	}
	return FieldNone, fmt.Errorf("unknown hash field %q", name)
}

// HdrType selects which headers of a possibly tunneled packet are hashed.
type HdrType int

const (
	HdrTypeOuter HdrType = iota
	HdrTypeInner
	HdrTypeInnerWithOuterIPv4
	HdrTypeInnerWithOuterIPv6
	// HdrTypeAny installs an outer and an inner configuration one after
	// the other.
	HdrTypeAny
)

var hdrTypeNames = []string{"outer", "inner", "inner-outer-ipv4", "inner-outer-ipv6", "any"}

func (t HdrType) String() string {
	if t < 0 || int(t) >= len(hdrTypeNames) {
		return fmt.Sprintf("hdrtype(%d)", int(t))
	}
	return hdrTypeNames[t]
}

func ParseHdrType(name string) (HdrType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return HdrTypeOuter, nil
	}
	for i, n := range hdrTypeNames {
		if n == name {
			return HdrType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown header type %q", name)
}
