// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	log "github.com/sirupsen/logrus"
)

// tcamInfo is one TCAM slot owned by a profile attached to a VSIG. A slot
// that is not in use has been demoted by a higher priority profile and owns
// no hardware entry.
type tcamInfo struct {
	ptg    uint8
	profID uint8
	idx    uint16
	inUse  bool
}

// vsigProfile is a profile attached to a VSIG.
type vsigProfile struct {
	cookie uint64
	profID uint8
	tcam   []tcamInfo
}

func (p *vsigProfile) clone() *vsigProfile {
	return &vsigProfile{cookie: p.cookie, profID: p.profID, tcam: append([]tcamInfo(nil), p.tcam...)}
}

type vsigGroup struct {
	inUse bool
	// newest first
	profiles []*vsigProfile
	members  []uint16
}

// vsigTable maps VSIs to VSI groups (XLT2). The default group keeps no
// member list.
type vsigTable struct {
	pf     uint8
	vsis   []uint16
	groups []vsigGroup
}

func newVSIGTable(numVSIs, numVSIGs int, pf uint8) *vsigTable {
	t := &vsigTable{
		pf:     pf,
		vsis:   make([]uint16, numVSIs),
		groups: make([]vsigGroup, numVSIGs),
	}
	t.groups[DefaultVSIG].inUse = true
	return t
}

func (t *vsigTable) clone() *vsigTable {
	c := &vsigTable{
		pf:     t.pf,
		vsis:   append([]uint16(nil), t.vsis...),
		groups: make([]vsigGroup, len(t.groups)),
	}
	for i, g := range t.groups {
		ng := vsigGroup{inUse: g.inUse, members: append([]uint16(nil), g.members...)}
		for _, p := range g.profiles {
			ng.profiles = append(ng.profiles, p.clone())
		}
		c.groups[i] = ng
	}
	return c
}

func (t *vsigTable) value(idx int) uint16 {
	return uint16(idx) | uint16(t.pf)<<vsigPFShift
}

func (t *vsigTable) group(vsig uint16) (*vsigGroup, error) {
	idx := int(vsig & VSIGIdxMask)
	if idx >= len(t.groups) {
		return nil, iceerr.New(iceerr.KindParam, "vsig", "vsig %d out of range", idx)
	}
	if !t.groups[idx].inUse {
		return nil, iceerr.New(iceerr.KindNotFound, "vsig", "vsig %d not in use", idx)
	}
	return &t.groups[idx], nil
}

func (t *vsigTable) findVSI(vsi uint16) (uint16, error) {
	if int(vsi) >= len(t.vsis) {
		return 0, iceerr.New(iceerr.KindParam, "vsig find", "vsi %d out of range", vsi)
	}
	return t.vsis[vsi], nil
}

// alloc reserves the first unused group and returns its value.
func (t *vsigTable) alloc() (uint16, error) {
	for i := 1; i < len(t.groups); i++ {
		if !t.groups[i].inUse {
			t.groups[i] = vsigGroup{inUse: true}
			return t.value(i), nil
		}
	}
	return 0, iceerr.New(iceerr.KindResourceExhausted, "vsig alloc", "no free vsi group")
}

func removeVSI(members []uint16, vsi uint16) []uint16 {
	for i, m := range members {
		if m == vsi {
			return append(members[:i], members[i+1:]...)
		}
	}
	return members
}

// moveVSI moves vsi into vsig and returns the group it left.
func (t *vsigTable) moveVSI(vsi uint16, vsig uint16) (uint16, error) {
	orig, err := t.findVSI(vsi)
	if err != nil {
		return 0, err
	}
	idx := vsig & VSIGIdxMask
	if idx != DefaultVSIG {
		if _, err := t.group(vsig); err != nil {
			return 0, err
		}
		vsig = t.value(int(idx))
	} else {
		vsig = DefaultVSIG
	}
	if orig == vsig {
		return orig, nil
	}

	if oidx := orig & VSIGIdxMask; oidx != DefaultVSIG {
		t.groups[oidx].members = removeVSI(t.groups[oidx].members, vsi)
	}
	if idx == DefaultVSIG {
		t.vsis[vsi] = DefaultVSIG
	} else {
		t.groups[idx].members = append([]uint16{vsi}, t.groups[idx].members...)
		t.vsis[vsi] = vsig
	}
	log.WithField("func", "moveVSI").WithField("pkg", "flexpipe").
		Debugf("Moved vsi %d from vsig 0x%04x to 0x%04x", vsi, orig, vsig)
	return orig, nil
}

// free releases the group and returns its members to the default group. TCAM
// slots must already have been released.
func (t *vsigTable) free(vsig uint16) error {
	g, err := t.group(vsig)
	if err != nil {
		return err
	}
	if vsig&VSIGIdxMask == DefaultVSIG {
		return iceerr.New(iceerr.KindParam, "vsig free", "default vsig cannot be freed")
	}
	for _, vsi := range g.members {
		t.vsis[vsi] = DefaultVSIG
	}
	*g = vsigGroup{}
	return nil
}

func (t *vsigTable) cookies(vsig uint16) []uint64 {
	g := &t.groups[vsig&VSIGIdxMask]
	ids := make([]uint64, 0, len(g.profiles))
	for _, p := range g.profiles {
		ids = append(ids, p.cookie)
	}
	return ids
}

func (t *vsigTable) hasProfile(vsig uint16, cookie uint64) bool {
	for _, p := range t.groups[vsig&VSIGIdxMask].profiles {
		if p.cookie == cookie {
			return true
		}
	}
	return false
}

// findExactMatch returns a group whose attached profiles equal cookies in
// count and order.
func (t *vsigTable) findExactMatch(cookies []uint64) (uint16, bool) {
	for i := 1; i < len(t.groups); i++ {
		g := &t.groups[i]
		if !g.inUse || len(g.profiles) != len(cookies) {
			continue
		}
		same := true
		for j, p := range g.profiles {
			if p.cookie != cookies[j] {
				same = false
				break
			}
		}
		if same {
			return t.value(i), true
		}
	}
	return 0, false
}

func (t *vsigTable) refCount(vsig uint16) int {
	return len(t.groups[vsig&VSIGIdxMask].members)
}

func (t *vsigTable) used() int {
	n := 0
	for i := 1; i < len(t.groups); i++ {
		if t.groups[i].inUse {
			n++
		}
	}
	return n
}

func (t *vsigTable) assigned() int {
	n := 0
	for _, v := range t.vsis {
		if v&VSIGIdxMask != DefaultVSIG {
			n++
		}
	}
	return n
}
