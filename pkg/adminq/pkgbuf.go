// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package adminq

import (
	"encoding/binary"
	"fmt"
)

// SectionKind selects which table of a block a section writes.
type SectionKind uint32

const (
	SectXLT1  SectionKind = 2
	SectXLT2  SectionKind = 3
	SectTCAM  SectionKind = 4
	SectFVEC  SectionKind = 6
	sectMaxID             = 8
)

// Section id bases per hardware block, indexed by block number
// (switch, acl, fd, hash, qhash).
var sectionBase = [...]uint32{10, 20, 30, 40, 80}

// NumBlocks is the number of hardware blocks known to the package format.
const NumBlocks = len(sectionBase)

// SectionID returns the section id of kind for block blk.
func SectionID(blk int, kind SectionKind) uint32 {
	return sectionBase[blk] + uint32(kind)
}

// SectionKindOf splits a section id back into block and kind.
func SectionKindOf(id uint32) (int, SectionKind, error) {
	for blk, base := range sectionBase {
		if id > base && id < base+sectMaxID {
			return blk, SectionKind(id - base), nil
		}
	}
	return 0, 0, fmt.Errorf("unknown section id %d", id)
}

// TCAMKeySize is the size of a profile TCAM key: five key bytes followed by
// five key-invert bytes.
const TCAMKeySize = 10

type FVWord struct {
	ProtID uint8
	Off    uint16
}

type ESEntry struct {
	ProfID uint16
	Words  []FVWord
}

type TCAMEntry struct {
	Addr   uint16
	ProfID uint8
	Key    [TCAMKeySize]byte
}

type XLT1Entry struct {
	Ptype uint16
	PTG   uint8
}

type XLT2Entry struct {
	VSI  uint16
	VSIG uint16
}

// Section is one typed section of an update transaction.
type Section struct {
	ID   uint32
	Data []byte
}

// Buffer accumulates the sections of one update-package transaction in the
// order they will be applied by firmware.
type Buffer struct {
	Sections []Section
}

func (b *Buffer) add(id uint32, data []byte) {
	b.Sections = append(b.Sections, Section{ID: id, Data: data})
}

func (b *Buffer) AddES(blk int, e ESEntry) {
	data := make([]byte, 4+4*len(e.Words))
	binary.LittleEndian.PutUint16(data[0:], e.ProfID)
	binary.LittleEndian.PutUint16(data[2:], uint16(len(e.Words)))
	for i, w := range e.Words {
		data[4+4*i] = w.ProtID
		binary.LittleEndian.PutUint16(data[6+4*i:], w.Off)
	}
	b.add(SectionID(blk, SectFVEC), data)
}

func (b *Buffer) AddTCAM(blk int, e TCAMEntry) {
	data := make([]byte, 3+TCAMKeySize)
	binary.LittleEndian.PutUint16(data[0:], e.Addr)
	data[2] = e.ProfID
	copy(data[3:], e.Key[:])
	b.add(SectionID(blk, SectTCAM), data)
}

func (b *Buffer) AddXLT1(blk int, e XLT1Entry) {
	data := make([]byte, 3)
	binary.LittleEndian.PutUint16(data[0:], e.Ptype)
	data[2] = e.PTG
	b.add(SectionID(blk, SectXLT1), data)
}

func (b *Buffer) AddXLT2(blk int, e XLT2Entry) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:], e.VSI)
	binary.LittleEndian.PutUint16(data[2:], e.VSIG)
	b.add(SectionID(blk, SectXLT2), data)
}

// Marshal renders the buffer as: section count (u16), then per section its
// id (u32), data length (u16) and data.
func (b *Buffer) Marshal() []byte {
	size := 2
	for _, s := range b.Sections {
		size += 6 + len(s.Data)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:], uint16(len(b.Sections)))
	off := 2
	for _, s := range b.Sections {
		binary.LittleEndian.PutUint32(buf[off:], s.ID)
		binary.LittleEndian.PutUint16(buf[off+4:], uint16(len(s.Data)))
		copy(buf[off+6:], s.Data)
		off += 6 + len(s.Data)
	}
	return buf
}

// UnmarshalBuffer is the inverse of Marshal.
func UnmarshalBuffer(buf []byte) (*Buffer, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("package buffer too short")
	}
	count := int(binary.LittleEndian.Uint16(buf[0:]))
	b := &Buffer{Sections: make([]Section, 0, count)}
	off := 2
	for i := 0; i < count; i++ {
		if len(buf) < off+6 {
			return nil, fmt.Errorf("section %d header truncated", i)
		}
		id := binary.LittleEndian.Uint32(buf[off:])
		n := int(binary.LittleEndian.Uint16(buf[off+4:]))
		if len(buf) < off+6+n {
			return nil, fmt.Errorf("section %d data truncated", i)
		}
		data := make([]byte, n)
		copy(data, buf[off+6:off+6+n])
		b.add(id, data)
		off += 6 + n
	}
	return b, nil
}

func DecodeES(data []byte) (ESEntry, error) {
	if len(data) < 4 {
		return ESEntry{}, fmt.Errorf("es section too short")
	}
	e := ESEntry{ProfID: binary.LittleEndian.Uint16(data[0:])}
	n := int(binary.LittleEndian.Uint16(data[2:]))
	if len(data) != 4+4*n {
		return ESEntry{}, fmt.Errorf("es section length %d does not hold %d words", len(data), n)
	}
	e.Words = make([]FVWord, n)
	for i := range e.Words {
		e.Words[i] = FVWord{ProtID: data[4+4*i], Off: binary.LittleEndian.Uint16(data[6+4*i:])}
	}
	return e, nil
}

func DecodeTCAM(data []byte) (TCAMEntry, error) {
	if len(data) != 3+TCAMKeySize {
		return TCAMEntry{}, fmt.Errorf("tcam section length %d", len(data))
	}
	e := TCAMEntry{Addr: binary.LittleEndian.Uint16(data[0:]), ProfID: data[2]}
	copy(e.Key[:], data[3:])
	return e, nil
}

func DecodeXLT1(data []byte) (XLT1Entry, error) {
	if len(data) != 3 {
		return XLT1Entry{}, fmt.Errorf("xlt1 section length %d", len(data))
	}
	return XLT1Entry{Ptype: binary.LittleEndian.Uint16(data[0:]), PTG: data[2]}, nil
}

func DecodeXLT2(data []byte) (XLT2Entry, error) {
	if len(data) != 4 {
		return XLT2Entry{}, fmt.Errorf("xlt2 section length %d", len(data))
	}
	return XLT2Entry{VSI: binary.LittleEndian.Uint16(data[0:]), VSIG: binary.LittleEndian.Uint16(data[2:])}, nil
}
