// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	log "github.com/sirupsen/logrus"
)

// tcamEnaDis enables or disables one TCAM slot of an attached profile.
// Disabling releases the slot, enabling allocates a fresh one.
func (b *block) tcamEnaDis(t *txn, enable bool, vsig uint16, tc *tcamInfo) error {
	if !enable {
		if err := b.releaseTCAM(t, tc.idx); err != nil {
			return err
		}
		tc.idx = 0
		tc.inUse = false
		return nil
	}

	idx, err := b.allocTCAM(t)
	if err != nil {
		return err
	}
	if err := b.tcam.write(idx, tc.profID, tc.ptg, vsig, validMask, matchDCMask, matchNMMask); err != nil {
		return iceerr.Wrap(iceerr.KindParam, "tcam enable", err)
	}
	tc.idx = idx
	tc.inUse = true
	t.chg.addTCAM(idx, tc.profID, tc.ptg, vsig)
	return nil
}

// adjPriorities walks the profiles of vsig from newest to oldest and keeps
// exactly the first TCAM entry of every packet type group enabled.
func (b *block) adjPriorities(t *txn, vsig uint16) error {
	logger := log.WithField("func", "adjPriorities").WithField("pkg", "flexpipe")
	g := &b.vsig.groups[vsig&VSIGIdxMask]

	var used [256]bool
	for _, p := range g.profiles {
		for i := range p.tcam {
			tc := &p.tcam[i]
			switch {
			case used[tc.ptg] && tc.inUse:
				logger.Debugf("Demoting profile 0x%x group %d in vsig 0x%04x", p.cookie, tc.ptg, vsig)
				if err := b.tcamEnaDis(t, false, vsig, tc); err != nil {
					return err
				}
			case !used[tc.ptg] && !tc.inUse:
				logger.Debugf("Promoting profile 0x%x group %d in vsig 0x%04x", p.cookie, tc.ptg, vsig)
				if err := b.tcamEnaDis(t, true, vsig, tc); err != nil {
					return err
				}
			}
			used[tc.ptg] = true
		}
	}
	return nil
}
