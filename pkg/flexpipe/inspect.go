// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"sort"
)

// FindVSIG returns the group vsi belongs to, DefaultVSIG if unclassified.
func (e *Engine) FindVSIG(blk Block, vsi uint16) (uint16, error) {
	b, err := e.block(blk)
	if err != nil {
		return 0, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	return b.vsig.findVSI(vsi)
}

// VSIGProfiles returns the cookies attached to vsig, highest priority first.
func (e *Engine) VSIGProfiles(blk Block, vsig uint16) ([]uint64, error) {
	b, err := e.block(blk)
	if err != nil {
		return nil, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	if _, err := b.vsig.group(vsig); err != nil {
		return nil, err
	}
	return b.vsig.cookies(vsig), nil
}

// VSIGMembers returns the VSIs of a non-default group in ascending order.
func (e *Engine) VSIGMembers(blk Block, vsig uint16) ([]uint16, error) {
	b, err := e.block(blk)
	if err != nil {
		return nil, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	g, err := b.vsig.group(vsig)
	if err != nil {
		return nil, err
	}
	members := append([]uint16(nil), g.members...)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

func (e *Engine) PTGOf(blk Block, ptype uint16) (uint8, error) {
	b, err := e.block(blk)
	if err != nil {
		return 0, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	return b.ptg.find(ptype)
}

// PTGMembers returns the ptypes of a non-default group, most recently
// added first.
func (e *Engine) PTGMembers(blk Block, ptg uint8) ([]uint16, error) {
	b, err := e.block(blk)
	if err != nil {
		return nil, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	return b.ptg.members(ptg), nil
}

// TCAMEntry describes the TCAM slot of one attached profile for one packet
// type group.
type TCAMEntry struct {
	Cookie  uint64
	ProfID  uint8
	PTG     uint8
	Index   uint16
	Enabled bool
}

// VSIGTCAMEntries lists the TCAM slots of vsig in priority order.
func (e *Engine) VSIGTCAMEntries(blk Block, vsig uint16) ([]TCAMEntry, error) {
	b, err := e.block(blk)
	if err != nil {
		return nil, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	g, err := b.vsig.group(vsig)
	if err != nil {
		return nil, err
	}
	return tcamEntries(g), nil
}

// VSIGDump is the state of one VSI group.
type VSIGDump struct {
	VSIG     uint16
	Profiles []uint64
	Members  []uint16
	TCAM     []TCAMEntry
}

// Dump returns every non-default group of a block in index order.
func (e *Engine) Dump(blk Block) ([]VSIGDump, error) {
	b, err := e.block(blk)
	if err != nil {
		return nil, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	dump := []VSIGDump{}
	for i := 1; i < len(b.vsig.groups); i++ {
		g := &b.vsig.groups[i]
		if !g.inUse {
			continue
		}
		vsig := b.vsig.value(i)
		d := VSIGDump{VSIG: vsig, Profiles: b.vsig.cookies(vsig), Members: append([]uint16(nil), g.members...)}
		sort.Slice(d.Members, func(i, j int) bool { return d.Members[i] < d.Members[j] })
		d.TCAM = tcamEntries(g)
		dump = append(dump, d)
	}
	return dump, nil
}

func tcamEntries(g *vsigGroup) []TCAMEntry {
	entries := []TCAMEntry{}
	for _, p := range g.profiles {
		for _, tc := range p.tcam {
			entries = append(entries, TCAMEntry{
				Cookie:  p.cookie,
				ProfID:  tc.profID,
				PTG:     tc.ptg,
				Index:   tc.idx,
				Enabled: tc.inUse,
			})
		}
	}
	return entries
}
