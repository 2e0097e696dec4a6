// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package adminq

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

var defaultPoolSizes = map[uint16]int{
	ResTypeSwitchProfID: 256,
	ResTypeSwitchTCAM:   512,
	ResTypeACLProfID:    128,
	ResTypeACLTCAM:      512,
	ResTypeFDProfID:     128,
	ResTypeFDTCAM:       512,
	ResTypeHashProfID:   128,
	ResTypeHashTCAM:     512,
	ResTypeQHashProfID:  32,
	ResTypeQHashTCAM:    64,
}

// tcamResTypes maps a TCAM resource type to its block so that freeing a slot
// also clears it from the hardware image.
var tcamResTypes = map[uint16]int{
	ResTypeSwitchTCAM: 0,
	ResTypeACLTCAM:    1,
	ResTypeFDTCAM:     2,
	ResTypeHashTCAM:   3,
	ResTypeQHashTCAM:  4,
}

type blockImage struct {
	es   map[uint16][]FVWord
	tcam map[uint16]TCAMEntry
	xlt1 map[uint16]uint8
	xlt2 map[uint16]uint16
}

func newBlockImage() *blockImage {
	return &blockImage{
		es:   map[uint16][]FVWord{},
		tcam: map[uint16]TCAMEntry{},
		xlt1: map[uint16]uint8{},
		xlt2: map[uint16]uint16{},
	}
}

// SimChannel is an in-process model of the firmware side of the admin queue.
// It owns the numbered resource pools and an image of the classification
// tables as written by update-package transactions.
type SimChannel struct {
	mu     sync.Mutex
	pools  map[uint16][]bool
	blocks [NumBlocks]*blockImage

	// Fail makes every command with the given opcode fail with the error.
	Fail map[Opcode]error
	// Busy is the number of upcoming commands answered with ErrBusy.
	Busy int

	Commands     []Opcode
	Transactions []*Buffer
}

func NewSimChannel() *SimChannel {
	s := &SimChannel{Fail: map[Opcode]error{}}
	s.reset()
	return s
}

func (s *SimChannel) reset() {
	s.pools = map[uint16][]bool{}
	for t, n := range defaultPoolSizes {
		s.pools[t] = make([]bool, n)
	}
	for i := range s.blocks {
		s.blocks[i] = newBlockImage()
	}
	s.Commands = nil
	s.Transactions = nil
}

// Reset models a device reset: every resource is returned and the hardware
// tables are cleared.
func (s *SimChannel) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// SetPoolSize resizes a resource pool, dropping any allocation state.
func (s *SimChannel) SetPoolSize(resType uint16, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[resType&resTypeMask] = make([]bool, size)
}

func (s *SimChannel) InUse(resType uint16) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, used := range s.pools[resType&resTypeMask] {
		if used {
			n++
		}
	}
	return n
}

func (s *SimChannel) Send(opcode Opcode, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Commands = append(s.Commands, opcode)
	if s.Busy > 0 {
		s.Busy--
		return nil, ErrBusy
	}
	if err, ok := s.Fail[opcode]; ok && err != nil {
		return nil, err
	}

	switch opcode {
	case OpcAllocRes:
		return s.alloc(payload)
	case OpcFreeRes:
		return nil, s.free(payload)
	case OpcUpdatePkg:
		return nil, s.update(payload)
	}
	return nil, &AQError{Opcode: opcode, Status: StatusEINVAL}
}

func (s *SimChannel) alloc(payload []byte) ([]byte, error) {
	t, elems, err := decodeResElems(payload)
	if err != nil || len(elems) == 0 {
		return nil, &AQError{Opcode: OpcAllocRes, Status: StatusEINVAL}
	}
	pool, ok := s.pools[t&resTypeMask]
	if !ok {
		return nil, &AQError{Opcode: OpcAllocRes, Status: StatusEINVAL}
	}

	for i := range elems {
		idx := -1
		if t&ResTypeFlagScanBottom != 0 {
			for j := len(pool) - 1; j >= 0; j-- {
				if !pool[j] {
					idx = j
					break
				}
			}
		} else {
			for j := range pool {
				if !pool[j] {
					idx = j
					break
				}
			}
		}
		if idx < 0 {
			return nil, &AQError{Opcode: OpcAllocRes, Status: StatusENOSPC}
		}
		pool[idx] = true
		elems[i] = uint16(idx)
	}
	return encodeResElems(t, elems), nil
}

func (s *SimChannel) free(payload []byte) error {
	t, elems, err := decodeResElems(payload)
	if err != nil {
		return &AQError{Opcode: OpcFreeRes, Status: StatusEINVAL}
	}
	t &= resTypeMask
	pool, ok := s.pools[t]
	if !ok {
		return &AQError{Opcode: OpcFreeRes, Status: StatusEINVAL}
	}
	for _, e := range elems {
		if int(e) >= len(pool) || !pool[e] {
			return &AQError{Opcode: OpcFreeRes, Status: StatusENOENT}
		}
		pool[e] = false
		if blk, ok := tcamResTypes[t]; ok {
			delete(s.blocks[blk].tcam, e)
		}
	}
	return nil
}

func (s *SimChannel) update(payload []byte) error {
	logger := log.WithField("func", "update").WithField("pkg", "adminq")
	b, err := UnmarshalBuffer(payload)
	if err != nil {
		logger.WithError(err).Error("Rejecting malformed package buffer")
		return &AQError{Opcode: OpcUpdatePkg, Status: StatusEINVAL}
	}

	for _, sect := range b.Sections {
		blk, kind, err := SectionKindOf(sect.ID)
		if err != nil {
			return &AQError{Opcode: OpcUpdatePkg, Status: StatusEINVAL}
		}
		img := s.blocks[blk]
		switch kind {
		case SectFVEC:
			e, err := DecodeES(sect.Data)
			if err != nil {
				return &AQError{Opcode: OpcUpdatePkg, Status: StatusEINVAL}
			}
			img.es[e.ProfID] = e.Words
		case SectTCAM:
			e, err := DecodeTCAM(sect.Data)
			if err != nil {
				return &AQError{Opcode: OpcUpdatePkg, Status: StatusEINVAL}
			}
			img.tcam[e.Addr] = e
		case SectXLT1:
			e, err := DecodeXLT1(sect.Data)
			if err != nil {
				return &AQError{Opcode: OpcUpdatePkg, Status: StatusEINVAL}
			}
			img.xlt1[e.Ptype] = e.PTG
		case SectXLT2:
			e, err := DecodeXLT2(sect.Data)
			if err != nil {
				return &AQError{Opcode: OpcUpdatePkg, Status: StatusEINVAL}
			}
			img.xlt2[e.VSI] = e.VSIG
		default:
			return &AQError{Opcode: OpcUpdatePkg, Status: StatusEINVAL}
		}
	}
	s.Transactions = append(s.Transactions, b)
	logger.Debugf("Applied %d sections", len(b.Sections))
	return nil
}

func (s *SimChannel) ES(blk int, profID uint16) ([]FVWord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.blocks[blk].es[profID]
	return w, ok
}

func (s *SimChannel) TCAM(blk int, addr uint16) (TCAMEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blocks[blk].tcam[addr]
	return e, ok
}

// TCAMEntries returns the written TCAM entries of a block ordered by address.
func (s *SimChannel) TCAMEntries(blk int) []TCAMEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]TCAMEntry, 0, len(s.blocks[blk].tcam))
	for _, e := range s.blocks[blk].tcam {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Addr < entries[j].Addr })
	return entries
}

// XLT1 returns the PTG written for ptype, zero if never written.
func (s *SimChannel) XLT1(blk int, ptype uint16) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[blk].xlt1[ptype]
}

// XLT2 returns the VSIG written for vsi, zero if never written.
func (s *SimChannel) XLT2(blk int, vsi uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[blk].xlt2[vsi]
}
