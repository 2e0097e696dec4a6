package rss

import (
	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
)

type FlowCall struct {
	Op     string
	Block  flexpipe.Block
	VSI    uint16
	Cookie uint64
}

type FlowEngineMock struct {
	Calls            []FlowCall
	Profiles         map[uint64][]flexpipe.FVWord
	Ptypes           map[uint64]*ptype.Bitmap
	RegisterErr      error
	RemoveProfileErr error
	AddFlowErrors    []error
	RemoveFlowErr    error
}

func (fm *FlowEngineMock) RegisterProfile(blk flexpipe.Block, cookie uint64, ptypes *ptype.Bitmap,
	es []flexpipe.FVWord) error {
	fm.Calls = append(fm.Calls, FlowCall{Op: "RegisterProfile", Block: blk, Cookie: cookie})
	if fm.RegisterErr != nil {
		return fm.RegisterErr
	}
	if fm.Profiles == nil {
		fm.Profiles = map[uint64][]flexpipe.FVWord{}
		fm.Ptypes = map[uint64]*ptype.Bitmap{}
	}
	fm.Profiles[cookie] = es
	fm.Ptypes[cookie] = ptypes
	return nil
}

func (fm *FlowEngineMock) RemoveProfile(blk flexpipe.Block, cookie uint64) error {
	fm.Calls = append(fm.Calls, FlowCall{Op: "RemoveProfile", Block: blk, Cookie: cookie})
	if fm.RemoveProfileErr == nil {
		delete(fm.Profiles, cookie)
	}
	return fm.RemoveProfileErr
}

// AddFlow pops the next queued error, succeeding once the queue is empty.
func (fm *FlowEngineMock) AddFlow(blk flexpipe.Block, vsi uint16, cookie uint64) error {
	fm.Calls = append(fm.Calls, FlowCall{Op: "AddFlow", Block: blk, VSI: vsi, Cookie: cookie})
	var err error
	if len(fm.AddFlowErrors) > 0 {
		err, fm.AddFlowErrors = fm.AddFlowErrors[0], fm.AddFlowErrors[1:]
	}
	return err
}

func (fm *FlowEngineMock) RemoveFlow(blk flexpipe.Block, vsi uint16, cookie uint64) error {
	fm.Calls = append(fm.Calls, FlowCall{Op: "RemoveFlow", Block: blk, VSI: vsi, Cookie: cookie})
	return fm.RemoveFlowErr
}

func (fm *FlowEngineMock) ops() []string {
	ops := []string{}
	for _, c := range fm.Calls {
		ops = append(ops, c.Op)
	}
	return ops
}
