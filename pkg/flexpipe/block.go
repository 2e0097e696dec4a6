// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"fmt"
	"strings"

	"github.com/intel/ice-flow-classifier/pkg/adminq"
)

// Block is one of the hardware classification blocks.
type Block int

const (
	BlockSwitch Block = iota
	BlockACL
	BlockFD
	BlockRSS
	BlockPE
	NumBlocks
)

var blockNames = [NumBlocks]string{"switch", "acl", "fd", "rss", "pe"}

func (b Block) String() string {
	if b < 0 || b >= NumBlocks {
		return fmt.Sprintf("block(%d)", int(b))
	}
	return blockNames[b]
}

func ParseBlock(s string) (Block, error) {
	for i, n := range blockNames {
		if n == strings.ToLower(s) {
			return Block(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hardware block %q", s)
}

const (
	DefaultPTG  uint8  = 0
	DefaultVSIG uint16 = 0

	// MaxPTGPerProfile bounds the packet type groups tracked per profile.
	MaxPTGPerProfile = 32

	// InvalidProtID marks an unused field vector word.
	InvalidProtID uint8 = 0xFF

	VSIGIdxMask uint16 = 0x1FFF
	vsigPFShift        = 13

	// MaxPFID is the highest PF number the VSIG value can carry.
	MaxPFID uint8 = 7
)

// blockSizes holds the table dimensions of a block.
type blockSizes struct {
	ptypes   int
	vsis     int
	vsigs    int
	ptgs     int
	tcam     int
	profIDs  int
	fvw      int
	reverse  bool
	profType uint16
	tcamType uint16
}

var sizes = [NumBlocks]blockSizes{
	BlockSwitch: {1024, 768, 768, 256, 512, 256, 48, false, adminq.ResTypeSwitchProfID, adminq.ResTypeSwitchTCAM},
	BlockACL:    {1024, 768, 768, 256, 512, 128, 32, false, adminq.ResTypeACLProfID, adminq.ResTypeACLTCAM},
	BlockFD:     {1024, 768, 768, 256, 512, 128, 24, true, adminq.ResTypeFDProfID, adminq.ResTypeFDTCAM},
	BlockRSS:    {1024, 768, 768, 256, 512, 128, 24, true, adminq.ResTypeHashProfID, adminq.ResTypeHashTCAM},
	BlockPE:     {1024, 768, 768, 256, 64, 32, 24, false, adminq.ResTypeQHashProfID, adminq.ResTypeQHashTCAM},
}

// FieldVectorWidth is the number of extraction words in a profile of block b.
func FieldVectorWidth(b Block) int {
	return sizes[b].fvw
}

// ReverseFieldVector reports whether block b stores extraction words from
// the last index down.
func ReverseFieldVector(b Block) bool {
	return sizes[b].reverse
}

// MaxVSI is the number of VSIs addressable by XLT2.
func MaxVSI(b Block) int {
	return sizes[b].vsis
}

// FVWord is one extraction sequence word: a protocol id and a byte offset
// into that protocol header.
type FVWord struct {
	ProtID uint8
	Off    uint16
}

func (w FVWord) String() string {
	return fmt.Sprintf("%d@%d", w.ProtID, w.Off)
}
