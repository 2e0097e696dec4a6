// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

// Package flexpipe manages the flexible pipeline classification tables of
// the ice device: packet type groups, VSI groups, profile TCAM entries and
// extraction sequences, and keeps hardware in sync with them.
package flexpipe

import (
	"sync"

	"github.com/intel/ice-flow-classifier/pkg/adminq"
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	log "github.com/sirupsen/logrus"
)

// HardwareClient allocates numbered hardware resources and applies update
// transactions. adminq.Client implements it.
type HardwareClient interface {
	AllocHWRes(resType uint16, btm bool) (uint16, error)
	FreeHWRes(resType uint16, idx uint16) error
	UpdatePackage(b *adminq.Buffer) error
}

// Package is the part of the device package the engine starts from: the
// packet type group of every pre-classified ptype.
type Package struct {
	PTGs map[uint16]uint8
}

type profileMap struct {
	cookie  uint64
	profID  uint8
	ptgs    []uint8
	context uint64
}

// block owns the tables of one hardware block. flowMu guards the PTG, VSIG
// and TCAM tables and the change list; profMu guards the profile registry
// and the extraction sequences. flowMu is always taken first.
type block struct {
	blk Block
	sz  blockSizes
	hw  HardwareClient

	flowMu sync.Mutex
	ptg    *ptgTable
	vsig   *vsigTable
	tcam   *tcamTable

	profMu   sync.Mutex
	es       *esTable
	profiles map[uint64]*profileMap

	commits      uint64
	commitErrors uint64
}

// Engine is the classification state of one physical function.
type Engine struct {
	hw     HardwareClient
	pkg    Package
	pfID   uint8
	blocks [NumBlocks]*block
}

// NewEngine builds the tables of every block for PF pfID.
func NewEngine(hw HardwareClient, pkg Package, pfID uint8) (*Engine, error) {
	if pfID > MaxPFID {
		return nil, iceerr.New(iceerr.KindParam, "NewEngine", "pf id %d out of range 0..%d", pfID, MaxPFID)
	}
	e := &Engine{hw: hw, pkg: pkg, pfID: pfID}
	for i := range e.blocks {
		b := &block{blk: Block(i), sz: sizes[i], hw: hw}
		b.init(pkg, pfID)
		e.blocks[i] = b
	}
	return e, nil
}

func (b *block) init(pkg Package, pfID uint8) {
	logger := log.WithField("func", "init").WithField("pkg", "flexpipe")

	b.ptg = newPTGTable(b.sz.ptypes, b.sz.ptgs)
	b.vsig = newVSIGTable(b.sz.vsis, b.sz.vsigs, pfID)
	b.tcam = newTCAMTable(b.sz.tcam)
	b.es = newESTable(b.sz.profIDs, b.sz.fvw)
	b.profiles = map[uint64]*profileMap{}

	seeded := 0
	for ptype, ptg := range pkg.PTGs {
		if int(ptype) >= b.sz.ptypes || int(ptg) >= b.sz.ptgs || ptg == DefaultPTG {
			logger.Warnf("Ignoring package ptype %d in group %d for block %v", ptype, ptg, b.blk)
			continue
		}
		b.ptg.allocVal(ptg)
		if _, err := b.ptg.addOrMove(ptype, ptg); err == nil {
			seeded++
		}
	}
	logger.Debugf("Block %v seeded with %d classified ptypes", b.blk, seeded)
}

// Reset drops all state after a device reset and rebuilds the tables from
// the package. Profiles must be registered again.
func (e *Engine) Reset() {
	for _, b := range e.blocks {
		b.flowMu.Lock()
		b.profMu.Lock()
		b.init(e.pkg, e.pfID)
		b.commits, b.commitErrors = 0, 0
		b.profMu.Unlock()
		b.flowMu.Unlock()
	}
	log.WithField("func", "Reset").WithField("pkg", "flexpipe").Info("Classification tables reset")
}

func (e *Engine) block(blk Block) (*block, error) {
	if blk < 0 || blk >= NumBlocks {
		return nil, iceerr.New(iceerr.KindParam, "block", "unknown block %d", int(blk))
	}
	return e.blocks[blk], nil
}

// Stats is a snapshot of table usage of one block.
type Stats struct {
	Block        Block
	PTGs         int
	VSIGs        int
	VSIs         int
	TCAMEntries  int
	ProfileIDs   int
	Profiles     int
	Commits      uint64
	CommitErrors uint64
}

func (e *Engine) Stats(blk Block) (Stats, error) {
	b, err := e.block(blk)
	if err != nil {
		return Stats{}, err
	}
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	b.profMu.Lock()
	defer b.profMu.Unlock()

	return Stats{
		Block:        blk,
		PTGs:         b.ptg.used(),
		VSIGs:        b.vsig.used(),
		VSIs:         b.vsig.assigned(),
		TCAMEntries:  b.tcam.used(),
		ProfileIDs:   b.es.used(),
		Profiles:     len(b.profiles),
		Commits:      b.commits,
		CommitErrors: b.commitErrors,
	}, nil
}

// allocTCAM reserves a TCAM slot for the operation.
func (b *block) allocTCAM(t *txn) (uint16, error) {
	idx, err := b.hw.AllocHWRes(b.sz.tcamType, true)
	if err != nil {
		return 0, err
	}
	if int(idx) >= len(b.tcam.entries) {
		_ = b.hw.FreeHWRes(b.sz.tcamType, idx)
		return 0, iceerr.New(iceerr.KindHardwareTransport, "tcam alloc", "firmware returned slot %d beyond table", idx)
	}
	b.tcam.entries[idx].allocated = true
	t.undo.push(func() error {
		return b.hw.FreeHWRes(b.sz.tcamType, idx)
	})
	return idx, nil
}

// releaseTCAM rewrites a slot to never match and hands it back once the
// operation is over. Pending writes of the slot are dropped.
func (b *block) releaseTCAM(t *txn, idx uint16) error {
	if err := b.tcam.writeNeverMatch(idx); err != nil {
		return iceerr.Wrap(iceerr.KindParam, "tcam release", err)
	}
	b.tcam.entries[idx].allocated = false
	t.chg.removeTCAM(idx)
	t.release = append(t.release, func() error {
		return b.hw.FreeHWRes(b.sz.tcamType, idx)
	})
	return nil
}
