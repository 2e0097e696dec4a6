// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
	log "github.com/sirupsen/logrus"
)

// RegisterProfile records the profile cookie over the given packet types with
// extraction sequence es. A byte-identical sequence already in use shares its
// hardware profile id. Packet type groups beyond MaxPTGPerProfile are not
// tracked.
func (e *Engine) RegisterProfile(blk Block, cookie uint64, ptypes *ptype.Bitmap, es []FVWord) error {
	logger := log.WithField("func", "RegisterProfile").WithField("pkg", "flexpipe")
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	if ptypes == nil {
		return iceerr.New(iceerr.KindParam, "RegisterProfile", "no packet types")
	}
	if len(es) > b.sz.fvw {
		return iceerr.New(iceerr.KindParam, "RegisterProfile",
			"%d extraction words exceed field vector width %d", len(es), b.sz.fvw)
	}

	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	b.profMu.Lock()
	defer b.profMu.Unlock()

	if _, ok := b.profiles[cookie]; ok {
		return iceerr.New(iceerr.KindAlreadyExists, "RegisterProfile", "profile 0x%x already registered", cookie)
	}

	seq := b.es.pad(es)
	profID, found := b.es.find(seq)
	if !found {
		id, err := b.hw.AllocHWRes(b.sz.profType, false)
		if err != nil {
			logger.WithError(err).Errorf("Unable to allocate profile id for 0x%x", cookie)
			return err
		}
		if int(id) >= b.sz.profIDs {
			_ = b.hw.FreeHWRes(b.sz.profType, id)
			return iceerr.New(iceerr.KindHardwareTransport, "RegisterProfile", "firmware returned profile id %d beyond table", id)
		}
		profID = uint8(id)
		b.es.write(profID, seq)
	}
	b.es.incRef(profID)

	prof := &profileMap{cookie: cookie, profID: profID}
	var used [256]bool
	for _, pt := range ptypes.IDs() {
		ptg, err := b.ptg.find(pt)
		if err != nil {
			continue
		}
		if used[ptg] {
			continue
		}
		if len(prof.ptgs) == MaxPTGPerProfile {
			logger.Warnf("Profile 0x%x touches more than %d packet type groups, dropping the rest",
				cookie, MaxPTGPerProfile)
			break
		}
		used[ptg] = true
		prof.ptgs = append(prof.ptgs, ptg)
	}
	b.profiles[cookie] = prof

	logger.Debugf("Registered profile 0x%x on %v as hardware profile %d (shared %v) with %d groups",
		cookie, blk, profID, found, len(prof.ptgs))
	return nil
}

// profile returns a copy of the registry entry. profMu must not be held.
func (b *block) profile(cookie uint64) (profileMap, error) {
	b.profMu.Lock()
	defer b.profMu.Unlock()
	p, ok := b.profiles[cookie]
	if !ok {
		return profileMap{}, iceerr.New(iceerr.KindNotFound, "profile", "profile 0x%x not registered", cookie)
	}
	c := *p
	c.ptgs = append([]uint8(nil), p.ptgs...)
	return c, nil
}

// getProfile looks the profile up for a flow operation and queues its
// extraction sequence if hardware has not seen it yet.
func (b *block) getProfile(t *txn, cookie uint64) (profileMap, error) {
	p, err := b.profile(cookie)
	if err != nil {
		return p, err
	}
	b.profMu.Lock()
	defer b.profMu.Unlock()
	if !b.es.written[p.profID] {
		t.chg.addES(p.profID)
		b.es.written[p.profID] = true
	}
	return p, nil
}

// unregister drops the registry entry and its reference on the hardware
// profile id. profMu must be held.
func (b *block) unregister(cookie uint64) error {
	p, ok := b.profiles[cookie]
	if !ok {
		return iceerr.New(iceerr.KindNotFound, "unregister", "profile 0x%x not registered", cookie)
	}
	delete(b.profiles, cookie)
	if b.es.decRef(p.profID) {
		if err := b.hw.FreeHWRes(b.sz.profType, uint16(p.profID)); err != nil {
			return err
		}
	}
	return nil
}

func (b *block) attached(cookie uint64) bool {
	for i := 1; i < len(b.vsig.groups); i++ {
		if b.vsig.groups[i].inUse && b.vsig.hasProfile(uint16(i), cookie) {
			return true
		}
	}
	return false
}

// UnregisterProfile removes a profile that no VSI group uses any more.
func (e *Engine) UnregisterProfile(blk Block, cookie uint64) error {
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	if b.attached(cookie) {
		return iceerr.New(iceerr.KindParam, "UnregisterProfile", "profile 0x%x still attached", cookie)
	}
	b.profMu.Lock()
	defer b.profMu.Unlock()
	return b.unregister(cookie)
}

// RemoveProfile detaches the profile from every VSI group carrying it and
// then unregisters it.
func (e *Engine) RemoveProfile(blk Block, cookie uint64) error {
	logger := log.WithField("func", "RemoveProfile").WithField("pkg", "flexpipe")
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	if _, err := b.profile(cookie); err != nil {
		return err
	}

	t := b.begin("RemoveProfile")
	err = b.removeFlowAll(t, cookie)
	if err = b.finish(t, err); err != nil {
		return err
	}

	b.profMu.Lock()
	defer b.profMu.Unlock()
	if err := b.unregister(cookie); err != nil {
		logger.WithError(err).Errorf("Unable to release profile 0x%x", cookie)
		return err
	}
	logger.Debugf("Removed profile 0x%x from %v", cookie, blk)
	return nil
}

func (e *Engine) GetContext(blk Block, cookie uint64) (uint64, error) {
	b, err := e.block(blk)
	if err != nil {
		return 0, err
	}
	p, err := b.profile(cookie)
	return p.context, err
}

// SetContext stores an opaque value with the profile.
func (e *Engine) SetContext(blk Block, cookie uint64, value uint64) error {
	b, err := e.block(blk)
	if err != nil {
		return err
	}
	b.profMu.Lock()
	defer b.profMu.Unlock()
	p, ok := b.profiles[cookie]
	if !ok {
		return iceerr.New(iceerr.KindNotFound, "SetContext", "profile 0x%x not registered", cookie)
	}
	p.context = value
	return nil
}

// FindProtOff returns the extraction word fvIdx of hardware profile profID.
func (e *Engine) FindProtOff(blk Block, profID uint8, fvIdx int) (FVWord, error) {
	b, err := e.block(blk)
	if err != nil {
		return FVWord{}, err
	}
	b.profMu.Lock()
	defer b.profMu.Unlock()
	if int(profID) >= b.sz.profIDs || fvIdx < 0 || fvIdx >= b.sz.fvw {
		return FVWord{}, iceerr.New(iceerr.KindParam, "FindProtOff", "profile %d word %d out of range", profID, fvIdx)
	}
	if b.es.refs[profID] == 0 {
		return FVWord{}, iceerr.New(iceerr.KindNotFound, "FindProtOff", "profile %d not in use", profID)
	}
	return b.es.seqs[profID][fvIdx], nil
}

// HardwareProfileID returns the hardware profile id behind a cookie.
func (e *Engine) HardwareProfileID(blk Block, cookie uint64) (uint8, error) {
	b, err := e.block(blk)
	if err != nil {
		return 0, err
	}
	p, err := b.profile(cookie)
	return p.profID, err
}

// ProfileRefCount returns how many registered cookies share hardware profile
// profID.
func (e *Engine) ProfileRefCount(blk Block, profID uint8) int {
	b, err := e.block(blk)
	if err != nil || int(profID) >= b.sz.profIDs {
		return 0
	}
	b.profMu.Lock()
	defer b.profMu.Unlock()
	return b.es.refs[profID]
}
