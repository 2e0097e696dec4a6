// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	log "github.com/sirupsen/logrus"
)

// attach adds a profile to vsig, allocating one TCAM slot per packet type
// group. At the head the profile gets the highest priority; at the tail its
// groups already covered by the group's profiles start out disabled.
func (b *block) attach(t *txn, vsig uint16, cookie uint64, atTail bool) error {
	if b.vsig.hasProfile(vsig, cookie) {
		return iceerr.New(iceerr.KindAlreadyExists, "attach", "profile 0x%x already in vsig 0x%04x", cookie, vsig)
	}
	prof, err := b.getProfile(t, cookie)
	if err != nil {
		return err
	}
	g, err := b.vsig.group(vsig)
	if err != nil {
		return err
	}

	var covered [256]bool
	if atTail {
		for _, p := range g.profiles {
			for _, tc := range p.tcam {
				covered[tc.ptg] = true
			}
		}
	}

	vp := &vsigProfile{cookie: cookie, profID: prof.profID, tcam: make([]tcamInfo, len(prof.ptgs))}
	for i, ptg := range prof.ptgs {
		vp.tcam[i] = tcamInfo{ptg: ptg, profID: prof.profID}
		if covered[ptg] {
			continue
		}
		if err := b.tcamEnaDis(t, true, vsig, &vp.tcam[i]); err != nil {
			return err
		}
	}

	if atTail {
		g.profiles = append(g.profiles, vp)
	} else {
		g.profiles = append([]*vsigProfile{vp}, g.profiles...)
	}
	return nil
}

// remProfID releases every enabled TCAM slot of an attached profile.
func (b *block) remProfID(t *txn, p *vsigProfile) error {
	for i := range p.tcam {
		if p.tcam[i].inUse {
			if err := b.tcamEnaDis(t, false, 0, &p.tcam[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// remVSIG tears a group down and returns its members to the default group.
func (b *block) remVSIG(t *txn, vsig uint16) error {
	g, err := b.vsig.group(vsig)
	if err != nil {
		return err
	}
	for _, p := range g.profiles {
		if err := b.remProfID(t, p); err != nil {
			return err
		}
	}
	for _, vsi := range g.members {
		t.chg.addXLT2(chgVSIGRem, vsi, vsig, DefaultVSIG)
	}
	log.WithField("func", "remVSIG").WithField("pkg", "flexpipe").
		Debugf("Removing vsig 0x%04x with %d members", vsig, len(g.members))
	return b.vsig.free(vsig)
}

// remProfIDVSIG detaches a profile from vsig, tearing the group down when it
// was the last one.
func (b *block) remProfIDVSIG(t *txn, vsig uint16, cookie uint64) error {
	g, err := b.vsig.group(vsig)
	if err != nil {
		return err
	}
	for i, p := range g.profiles {
		if p.cookie != cookie {
			continue
		}
		if len(g.profiles) == 1 {
			return b.remVSIG(t, vsig)
		}
		if err := b.remProfID(t, p); err != nil {
			return err
		}
		g.profiles = append(g.profiles[:i], g.profiles[i+1:]...)
		return nil
	}
	return iceerr.New(iceerr.KindNotFound, "detach", "profile 0x%x not in vsig 0x%04x", cookie, vsig)
}

func (b *block) moveVSI(t *txn, vsi uint16, vsig uint16) error {
	orig, err := b.vsig.moveVSI(vsi, vsig)
	if err != nil {
		return err
	}
	cur, _ := b.vsig.findVSI(vsi)
	t.chg.addXLT2(chgVSIMove, vsi, orig, cur)
	return nil
}

// createProfIDVSIG puts vsi into a new group holding only cookie.
func (b *block) createProfIDVSIG(t *txn, vsi uint16, cookie uint64) error {
	vsig, err := b.vsig.alloc()
	if err != nil {
		return err
	}
	if err := b.moveVSI(t, vsi, vsig); err != nil {
		return err
	}
	if err := b.attach(t, vsig, cookie, false); err != nil {
		return err
	}
	t.chg.addXLT2(chgVSIGAdd, vsi, DefaultVSIG, vsig)
	return nil
}

// createVSIGFromList puts vsi into a new group carrying cookies in the
// given priority order.
func (b *block) createVSIGFromList(t *txn, vsi uint16, cookies []uint64) (uint16, error) {
	vsig, err := b.vsig.alloc()
	if err != nil {
		return 0, err
	}
	if err := b.moveVSI(t, vsi, vsig); err != nil {
		return 0, err
	}
	for _, c := range cookies {
		if err := b.attach(t, vsig, c, true); err != nil {
			return 0, err
		}
	}
	return vsig, nil
}

func (b *block) addFlow(t *txn, vsi uint16, cookie uint64) error {
	if _, err := b.getProfile(t, cookie); err != nil {
		return err
	}
	vsig, err := b.vsig.findVSI(vsi)
	if err != nil {
		return err
	}

	if vsig&VSIGIdxMask == DefaultVSIG {
		if match, ok := b.vsig.findExactMatch([]uint64{cookie}); ok {
			return b.moveVSI(t, vsi, match)
		}
		return b.createProfIDVSIG(t, vsi, cookie)
	}

	if b.vsig.hasProfile(vsig, cookie) {
		return iceerr.New(iceerr.KindAlreadyExists, "AddFlow", "vsi %d already uses profile 0x%x", vsi, cookie)
	}
	onlyVSI := b.vsig.refCount(vsig) == 1
	union := append([]uint64{cookie}, b.vsig.cookies(vsig)...)

	if match, ok := b.vsig.findExactMatch(union); ok {
		if err := b.moveVSI(t, vsi, match); err != nil {
			return err
		}
		if onlyVSI {
			return b.remVSIG(t, vsig)
		}
		return nil
	}

	if onlyVSI {
		if err := b.attach(t, vsig, cookie, false); err != nil {
			return err
		}
		return b.adjPriorities(t, vsig)
	}

	nvsig, err := b.createVSIGFromList(t, vsi, union)
	if err != nil {
		return err
	}
	return b.adjPriorities(t, nvsig)
}

func (b *block) removeFlow(t *txn, vsi uint16, cookie uint64) error {
	vsig, err := b.vsig.findVSI(vsi)
	if err != nil {
		return err
	}
	if vsig&VSIGIdxMask == DefaultVSIG || !b.vsig.hasProfile(vsig, cookie) {
		return iceerr.New(iceerr.KindNotFound, "RemoveFlow", "vsi %d does not use profile 0x%x", vsi, cookie)
	}

	onlyVSI := b.vsig.refCount(vsig) == 1
	rest := []uint64{}
	for _, c := range b.vsig.cookies(vsig) {
		if c != cookie {
			rest = append(rest, c)
		}
	}

	if len(rest) == 0 {
		if onlyVSI {
			return b.remVSIG(t, vsig)
		}
		return b.moveVSI(t, vsi, DefaultVSIG)
	}
	if match, ok := b.vsig.findExactMatch(rest); ok {
		if err := b.moveVSI(t, vsi, match); err != nil {
			return err
		}
		if onlyVSI {
			return b.remVSIG(t, vsig)
		}
		return nil
	}
	if onlyVSI {
		if err := b.remProfIDVSIG(t, vsig, cookie); err != nil {
			return err
		}
		return b.adjPriorities(t, vsig)
	}
	nvsig, err := b.createVSIGFromList(t, vsi, rest)
	if err != nil {
		return err
	}
	return b.adjPriorities(t, nvsig)
}

func (b *block) removeFlowAll(t *txn, cookie uint64) error {
	for i := 1; i < len(b.vsig.groups); i++ {
		vsig := b.vsig.value(i)
		if !b.vsig.groups[i].inUse || !b.vsig.hasProfile(vsig, cookie) {
			continue
		}
		if err := b.remProfIDVSIG(t, vsig, cookie); err != nil {
			return err
		}
		if b.vsig.groups[i].inUse {
			if err := b.adjPriorities(t, vsig); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddFlow enables profile cookie for vsi. The VSI joins a group carrying its
// current profiles plus cookie as the highest priority one.
func (e *Engine) AddFlow(blk Block, vsi uint16, cookie uint64) error {
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	t := b.begin("AddFlow")
	return b.finish(t, b.addFlow(t, vsi, cookie))
}

// RemoveFlow disables profile cookie for vsi.
func (e *Engine) RemoveFlow(blk Block, vsi uint16, cookie uint64) error {
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	t := b.begin("RemoveFlow")
	return b.finish(t, b.removeFlow(t, vsi, cookie))
}

// AddFlows enables cookie for each VSI in turn, stopping at the first error.
func (e *Engine) AddFlows(blk Block, vsis []uint16, cookie uint64) error {
	for _, vsi := range vsis {
		if err := e.AddFlow(blk, vsi, cookie); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFlows disables cookie for each VSI in turn, stopping at the first
// error.
func (e *Engine) RemoveFlows(blk Block, vsis []uint16, cookie uint64) error {
	for _, vsi := range vsis {
		if err := e.RemoveFlow(blk, vsi, cookie); err != nil {
			return err
		}
	}
	return nil
}

// AddVSIFlow moves vsi into an existing group the caller knows to carry the
// right profiles.
func (e *Engine) AddVSIFlow(blk Block, vsi uint16, vsig uint16) error {
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	if vsig&VSIGIdxMask == DefaultVSIG {
		return iceerr.New(iceerr.KindParam, "AddVSIFlow", "vsi %d cannot be moved into the default group", vsi)
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	t := b.begin("AddVSIFlow")
	return b.finish(t, b.moveVSI(t, vsi, vsig))
}
