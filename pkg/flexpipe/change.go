// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/intel/ice-flow-classifier/pkg/adminq"
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	log "github.com/sirupsen/logrus"
)

type changeType int

const (
	chgES changeType = iota
	chgTCAM
	chgXLT1
	chgVSIGAdd
	chgVSIMove
	chgVSIGRem
)

func (c changeType) String() string {
	switch c {
	case chgES:
		return "es"
	case chgTCAM:
		return "tcam"
	case chgXLT1:
		return "xlt1"
	case chgVSIGAdd:
		return "vsig-add"
	case chgVSIMove:
		return "vsi-move"
	case chgVSIGRem:
		return "vsig-rem"
	}
	return fmt.Sprintf("change(%d)", int(c))
}

// change is one pending hardware table write. ES and TCAM contents are read
// from the shadow tables when the list is rendered.
type change struct {
	typ      changeType
	profID   uint8
	tcamIdx  uint16
	ptype    uint16
	ptg      uint8
	vsi      uint16
	origVSIG uint16
	vsig     uint16
}

type changeList struct {
	recs []change
}

func (l *changeList) addES(profID uint8) {
	l.recs = append(l.recs, change{typ: chgES, profID: profID})
}

func (l *changeList) addTCAM(idx uint16, profID uint8, ptg uint8, vsig uint16) {
	l.recs = append(l.recs, change{typ: chgTCAM, tcamIdx: idx, profID: profID, ptg: ptg, vsig: vsig})
}

func (l *changeList) addXLT1(ptype uint16, ptg uint8) {
	l.recs = append(l.recs, change{typ: chgXLT1, ptype: ptype, ptg: ptg})
}

func (l *changeList) addXLT2(typ changeType, vsi, origVSIG, vsig uint16) {
	l.recs = append(l.recs, change{typ: typ, vsi: vsi, origVSIG: origVSIG, vsig: vsig})
}

// removeTCAM drops pending writes of a TCAM slot the block no longer owns.
func (l *changeList) removeTCAM(idx uint16) {
	kept := l.recs[:0]
	for _, c := range l.recs {
		if c.typ == chgTCAM && c.tcamIdx == idx {
			continue
		}
		kept = append(kept, c)
	}
	l.recs = kept
}

func (l *changeList) count(typ changeType) int {
	n := 0
	for _, c := range l.recs {
		if c.typ == typ {
			n++
		}
	}
	return n
}

// render builds the update transaction: extraction sequences first, then
// TCAM entries, then XLT1 and finally XLT2, since later sections refer to
// ids established by the earlier ones.
func (l *changeList) render(b *block) *adminq.Buffer {
	buf := &adminq.Buffer{}
	blk := int(b.blk)

	for _, c := range l.recs {
		if c.typ != chgES {
			continue
		}
		seq := b.es.seqs[c.profID]
		words := make([]adminq.FVWord, len(seq))
		for i, w := range seq {
			words[i] = adminq.FVWord{ProtID: w.ProtID, Off: w.Off}
		}
		buf.AddES(blk, adminq.ESEntry{ProfID: uint16(c.profID), Words: words})
	}
	for _, c := range l.recs {
		if c.typ != chgTCAM {
			continue
		}
		e := b.tcam.entries[c.tcamIdx]
		buf.AddTCAM(blk, adminq.TCAMEntry{Addr: c.tcamIdx, ProfID: e.profID, Key: e.key})
	}
	for _, c := range l.recs {
		if c.typ == chgXLT1 {
			buf.AddXLT1(blk, adminq.XLT1Entry{Ptype: c.ptype, PTG: c.ptg})
		}
	}
	for _, c := range l.recs {
		switch c.typ {
		case chgVSIGAdd, chgVSIMove, chgVSIGRem:
			buf.AddXLT2(blk, adminq.XLT2Entry{VSI: c.vsi, VSIG: c.vsig})
		}
	}
	return buf
}

// txn is the state of one engine operation: the change list being built,
// the hardware resources it allocated and the ones it released.
type txn struct {
	id      uuid.UUID
	op      string
	chg     changeList
	undo    undoStack
	release []func() error
	snap    *flowState
}

// flowState is a copy of the tables an operation may modify.
type flowState struct {
	ptg     *ptgTable
	vsig    *vsigTable
	tcam    *tcamTable
	written []bool
}

// begin starts an operation. flowMu must be held.
func (b *block) begin(op string) *txn {
	b.profMu.Lock()
	written := append([]bool(nil), b.es.written...)
	b.profMu.Unlock()

	return &txn{
		id: uuid.New(),
		op: op,
		snap: &flowState{
			ptg:     b.ptg.clone(),
			vsig:    b.vsig.clone(),
			tcam:    b.tcam.clone(),
			written: written,
		},
	}
}

func (b *block) restore(s *flowState) {
	b.ptg, b.vsig, b.tcam = s.ptg, s.vsig, s.tcam
	b.profMu.Lock()
	copy(b.es.written, s.written)
	b.profMu.Unlock()
}

// finish completes an operation. On error the tables are restored and every
// resource allocated by the operation is freed. Otherwise the change list is
// sent to hardware as one transaction. A failed transaction is not rolled
// back: the tables keep the new state and no longer mirror hardware.
func (b *block) finish(t *txn, err error) error {
	logger := log.WithField("func", t.op).WithField("pkg", "flexpipe").
		WithField("block", b.blk.String()).WithField("txn", t.id.String())

	if err != nil {
		logger.WithError(err).Debug("Operation failed, rolling back")
		b.restore(t.snap)
		if uerr := t.undo.rollback(logger); uerr != nil {
			logger.WithError(uerr).Warn("Unable to free all resources allocated by the operation")
		}
		return err
	}

	buf := t.chg.render(b)
	cerr := b.hw.UpdatePackage(buf)

	// released slots are gone from the tables whatever the outcome
	var rerr error
	for _, fn := range t.release {
		if err := fn(); err != nil && rerr == nil {
			rerr = err
		}
	}

	if cerr != nil {
		b.commitErrors++
		logger.WithError(cerr).Error("Hardware update failed, tables no longer mirror hardware")
		if iceerr.KindOf(cerr) == iceerr.KindUnknown {
			return iceerr.Wrap(iceerr.KindHardwareTransport, t.op, cerr)
		}
		return cerr
	}
	if len(buf.Sections) > 0 {
		b.commits++
		logger.WithField("es", t.chg.count(chgES)).WithField("tcam", t.chg.count(chgTCAM)).
			WithField("xlt1", t.chg.count(chgXLT1)).
			Infof("Committed %d sections", len(buf.Sections))
	}
	if rerr != nil {
		logger.WithError(rerr).Error("Unable to release hardware resources")
		if iceerr.KindOf(rerr) == iceerr.KindUnknown {
			return iceerr.Wrap(iceerr.KindHardwareTransport, t.op, rerr)
		}
		return rerr
	}
	return nil
}
