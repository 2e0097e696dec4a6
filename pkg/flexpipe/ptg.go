// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	log "github.com/sirupsen/logrus"
)

type ptgGroup struct {
	inUse   bool
	members []uint16
}

// ptgTable maps packet types to packet type groups (XLT1). Membership of the
// default group is implicit.
type ptgTable struct {
	ptypes []uint8
	groups []ptgGroup
}

func newPTGTable(numPtypes, numPTGs int) *ptgTable {
	t := &ptgTable{
		ptypes: make([]uint8, numPtypes),
		groups: make([]ptgGroup, numPTGs),
	}
	t.groups[DefaultPTG].inUse = true
	return t
}

func (t *ptgTable) clone() *ptgTable {
	c := &ptgTable{
		ptypes: append([]uint8(nil), t.ptypes...),
		groups: make([]ptgGroup, len(t.groups)),
	}
	for i, g := range t.groups {
		c.groups[i] = ptgGroup{inUse: g.inUse, members: append([]uint16(nil), g.members...)}
	}
	return c
}

func (t *ptgTable) find(ptype uint16) (uint8, error) {
	if int(ptype) >= len(t.ptypes) {
		return 0, iceerr.New(iceerr.KindParam, "ptg find", "ptype %d out of range", ptype)
	}
	return t.ptypes[ptype], nil
}

// alloc returns the first unused group, never the default one.
func (t *ptgTable) alloc() (uint8, error) {
	for i := 1; i < len(t.groups); i++ {
		if !t.groups[i].inUse {
			t.groups[i].inUse = true
			return uint8(i), nil
		}
	}
	return 0, iceerr.New(iceerr.KindResourceExhausted, "ptg alloc", "no free packet type group")
}

func (t *ptgTable) allocVal(ptg uint8) {
	t.groups[ptg].inUse = true
}

func (t *ptgTable) inUse(ptg uint8) bool {
	return int(ptg) < len(t.groups) && t.groups[ptg].inUse
}

func (t *ptgTable) removeMember(ptg uint8, ptype uint16) {
	members := t.groups[ptg].members
	for i, m := range members {
		if m == ptype {
			t.groups[ptg].members = append(members[:i], members[i+1:]...)
			return
		}
	}
}

// addOrMove moves ptype into ptg and reports whether its group changed.
func (t *ptgTable) addOrMove(ptype uint16, ptg uint8) (bool, error) {
	if int(ptype) >= len(t.ptypes) || int(ptg) >= len(t.groups) {
		return false, iceerr.New(iceerr.KindParam, "ptg move", "ptype %d or group %d out of range", ptype, ptg)
	}
	if !t.groups[ptg].inUse {
		return false, iceerr.New(iceerr.KindNotFound, "ptg move", "packet type group %d not allocated", ptg)
	}

	orig := t.ptypes[ptype]
	if orig == ptg {
		return false, nil
	}
	if orig != DefaultPTG {
		t.removeMember(orig, ptype)
	}
	if ptg != DefaultPTG {
		t.groups[ptg].members = append([]uint16{ptype}, t.groups[ptg].members...)
	}
	t.ptypes[ptype] = ptg
	return true, nil
}

// free returns every member of ptg to the default group and releases it.
// The moved ptypes are returned in membership order.
func (t *ptgTable) free(ptg uint8) []uint16 {
	logger := log.WithField("func", "free").WithField("pkg", "flexpipe")
	moved := t.groups[ptg].members
	for _, p := range moved {
		t.ptypes[p] = DefaultPTG
	}
	t.groups[ptg] = ptgGroup{}
	logger.Debugf("Freed packet type group %d, %d ptypes back in default group", ptg, len(moved))
	return moved
}

func (t *ptgTable) members(ptg uint8) []uint16 {
	if int(ptg) >= len(t.groups) {
		return nil
	}
	return append([]uint16(nil), t.groups[ptg].members...)
}

func (t *ptgTable) used() int {
	n := 0
	for i := 1; i < len(t.groups); i++ {
		if t.groups[i].inUse {
			n++
		}
	}
	return n
}

// AllocPTG reserves an unused packet type group of block blk.
func (e *Engine) AllocPTG(blk Block) (uint8, error) {
	b, err := e.block(blk)
	if err != nil {
		return 0, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	return b.ptg.alloc()
}

// MovePtype moves a packet type into an allocated group and writes the new
// mapping to hardware.
func (e *Engine) MovePtype(blk Block, ptype uint16, ptg uint8) error {
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	t := b.begin("MovePtype")
	changed, err := b.ptg.addOrMove(ptype, ptg)
	if err == nil && changed {
		t.chg.addXLT1(ptype, ptg)
	}
	return b.finish(t, err)
}

// FreePTG releases a group, returning its packet types to the default group.
func (e *Engine) FreePTG(blk Block, ptg uint8) error {
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	if ptg == DefaultPTG || !b.ptg.inUse(ptg) {
		return iceerr.New(iceerr.KindParam, "FreePTG", "packet type group %d cannot be freed", ptg)
	}
	t := b.begin("FreePTG")
	for _, p := range b.ptg.free(ptg) {
		t.chg.addXLT1(p, DefaultPTG)
	}
	return b.finish(t, nil)
}
