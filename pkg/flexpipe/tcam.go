// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/intel/ice-flow-classifier/pkg/adminq"
)

const (
	tcamKeyValSize = adminq.TCAMKeySize / 2

	// per bit encodings of key and key invert
	dcKey    = 1
	dcKeyInv = 1
	nmKey    = 0
	nmKeyInv = 0
	oneKey   = 0
	oneInv   = 1
	zeroKey  = 1
	zeroInv  = 0

	maxNeverMatchBits = 1
)

type keyMask [tcamKeyValSize]byte

var (
	// valid entries ignore the flags bytes
	validMask     = keyMask{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	matchDCMask   = keyMask{0xFF, 0xFF, 0x00, 0x00, 0x00}
	matchNMMask   = keyMask{0x00, 0x00, 0x00, 0x00, 0x00}
	neverDCMask   = keyMask{0xFE, 0xFF, 0xFF, 0xFF, 0xFF}
	neverNMMask   = keyMask{0x01, 0x00, 0x00, 0x00, 0x00}
	errKeyOverlap = errors.New("don't care and never match masks overlap")
)

// genKeyWord encodes the eight bits of val into one key byte and one key
// invert byte. Bits not set in valid keep their previous encoding.
func genKeyWord(val, valid, dontCare, nvrMtch byte, key, keyInv *byte) error {
	if dontCare&nvrMtch != 0 {
		return errKeyOverlap
	}

	inKey, inKeyInv := *key, *keyInv
	var k, ki byte
	for i := 0; i < 8; i++ {
		k >>= 1
		ki >>= 1
		switch {
		case valid&1 == 0:
			k |= (inKey & 1) << 7
			ki |= (inKeyInv & 1) << 7
		case dontCare&1 != 0:
			k |= dcKey << 7
			ki |= dcKeyInv << 7
		case nvrMtch&1 != 0:
			k |= nmKey << 7
			ki |= nmKeyInv << 7
		case val&1 != 0:
			k |= oneKey << 7
			ki |= oneInv << 7
		default:
			k |= zeroKey << 7
			ki |= zeroInv << 7
		}
		dontCare >>= 1
		nvrMtch >>= 1
		valid >>= 1
		val >>= 1
		inKey >>= 1
		inKeyInv >>= 1
	}
	*key, *keyInv = k, ki
	return nil
}

// setKey encodes val into key, whose first half holds key bytes and second
// half the matching key invert bytes.
func setKey(key []byte, val []byte, upd, dc, nm []byte, off, length int) error {
	if len(key)%2 != 0 {
		return fmt.Errorf("key size %d is not a multiple of two", len(key))
	}
	half := len(key) / 2
	if off+length > half || len(val) < length {
		return fmt.Errorf("key range %d+%d exceeds %d bytes", off, length, half)
	}

	if nm != nil {
		set := 0
		for _, b := range nm[:length] {
			set += bits.OnesCount8(b)
		}
		if set > maxNeverMatchBits {
			return fmt.Errorf("%d never match bits set, at most %d allowed", set, maxNeverMatchBits)
		}
	}

	for i := 0; i < length; i++ {
		u, d, n := byte(0xFF), byte(0), byte(0)
		if upd != nil {
			u = upd[i]
		}
		if dc != nil {
			d = dc[i]
		}
		if nm != nil {
			n = nm[i]
		}
		if err := genKeyWord(val[i], u, d, n, &key[off+i], &key[half+off+i]); err != nil {
			return err
		}
	}
	return nil
}

// profGenKey builds the profile TCAM key {flags, ptg, vsig}.
func profGenKey(ptg uint8, vsig uint16, flags uint16, vl, dc, nm keyMask) ([adminq.TCAMKeySize]byte, error) {
	var key [adminq.TCAMKeySize]byte
	var in [tcamKeyValSize]byte
	binary.LittleEndian.PutUint16(in[0:], flags)
	in[2] = ptg
	binary.LittleEndian.PutUint16(in[3:], vsig)

	err := setKey(key[:], in[:], vl[:], dc[:], nm[:], 0, tcamKeyValSize)
	return key, err
}

type tcamShadow struct {
	allocated bool
	profID    uint8
	key       [adminq.TCAMKeySize]byte
}

// tcamTable mirrors the profile TCAM of a block as last written.
type tcamTable struct {
	entries []tcamShadow
}

func newTCAMTable(n int) *tcamTable {
	return &tcamTable{entries: make([]tcamShadow, n)}
}

func (t *tcamTable) clone() *tcamTable {
	return &tcamTable{entries: append([]tcamShadow(nil), t.entries...)}
}

func (t *tcamTable) write(idx uint16, profID uint8, ptg uint8, vsig uint16, vl, dc, nm keyMask) error {
	if int(idx) >= len(t.entries) {
		return fmt.Errorf("tcam index %d out of range", idx)
	}
	key, err := profGenKey(ptg, vsig, 0, vl, dc, nm)
	if err != nil {
		return err
	}
	t.entries[idx].profID = profID
	t.entries[idx].key = key
	return nil
}

// writeNeverMatch rewrites idx so that it cannot match any packet.
func (t *tcamTable) writeNeverMatch(idx uint16) error {
	return t.write(idx, 0, 0, 0, validMask, neverDCMask, neverNMMask)
}

func (t *tcamTable) used() int {
	n := 0
	for _, e := range t.entries {
		if e.allocated {
			n++
		}
	}
	return n
}
