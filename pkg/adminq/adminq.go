// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package adminq

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	log "github.com/sirupsen/logrus"
)

type Opcode uint16

const (
	OpcAllocRes  Opcode = 0x0208
	OpcFreeRes   Opcode = 0x0209
	OpcUpdatePkg Opcode = 0x0C42
)

func (o Opcode) String() string {
	switch o {
	case OpcAllocRes:
		return "alloc_res"
	case OpcFreeRes:
		return "free_res"
	case OpcUpdatePkg:
		return "update_pkg"
	}
	return fmt.Sprintf("opcode(0x%04x)", uint16(o))
}

// Resource types of the profile builders, one pair per hardware block.
const (
	ResTypeSwitchProfID uint16 = 0x48
	ResTypeSwitchTCAM   uint16 = 0x49
	ResTypeACLProfID    uint16 = 0x50
	ResTypeACLTCAM      uint16 = 0x51
	ResTypeFDProfID     uint16 = 0x58
	ResTypeFDTCAM       uint16 = 0x59
	ResTypeHashProfID   uint16 = 0x60
	ResTypeHashTCAM     uint16 = 0x61
	ResTypeQHashProfID  uint16 = 0x68
	ResTypeQHashTCAM    uint16 = 0x69

	ResTypeFlagDedicated   uint16 = 0x0000
	ResTypeFlagScanBottom  uint16 = 1 << 12
	ResTypeFlagIgnoreIndex uint16 = 1 << 13
	resTypeMask            uint16 = 0x00FF
)

// Status is the firmware return code carried by an AQError.
type Status uint16

const (
	StatusOK     Status = 0
	StatusENOENT Status = 2
	StatusEBUSY  Status = 12
	StatusEINVAL Status = 14
	StatusENOSPC Status = 16
)

// AQError is returned by a Channel when firmware completes a command with a
// non-zero status.
type AQError struct {
	Opcode Opcode
	Status Status
}

func (e *AQError) Error() string {
	return fmt.Sprintf("admin queue command %v failed with status %d", e.Opcode, e.Status)
}

// ErrBusy is returned by channels that want the caller to try again later.
var ErrBusy = errors.New("admin queue busy")

// Channel is the synchronous firmware RPC used to submit commands.
type Channel interface {
	Send(opcode Opcode, payload []byte) ([]byte, error)
}

// Client issues the three commands the classification engine needs.
type Client struct {
	ch Channel
}

func NewClient(ch Channel) *Client {
	return &Client{ch: ch}
}

func encodeResElems(resType uint16, elems []uint16) []byte {
	buf := make([]byte, 4+2*len(elems))
	binary.LittleEndian.PutUint16(buf[0:], uint16(len(elems)))
	binary.LittleEndian.PutUint16(buf[2:], resType)
	for i, e := range elems {
		binary.LittleEndian.PutUint16(buf[4+2*i:], e)
	}
	return buf
}

func decodeResElems(buf []byte) (uint16, []uint16, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("resource buffer too short: %d bytes", len(buf))
	}
	num := binary.LittleEndian.Uint16(buf[0:])
	resType := binary.LittleEndian.Uint16(buf[2:])
	if len(buf) < 4+2*int(num) {
		return 0, nil, fmt.Errorf("resource buffer holds %d bytes, need %d", len(buf), 4+2*int(num))
	}
	elems := make([]uint16, num)
	for i := range elems {
		elems[i] = binary.LittleEndian.Uint16(buf[4+2*i:])
	}
	return resType, elems, nil
}

// statusError maps a channel failure onto the engine error kinds.
func statusError(op string, err error) error {
	var aqe *AQError
	if errors.As(err, &aqe) {
		switch aqe.Status {
		case StatusENOSPC:
			return iceerr.Wrap(iceerr.KindResourceExhausted, op, err)
		case StatusEINVAL:
			return iceerr.Wrap(iceerr.KindParam, op, err)
		case StatusENOENT:
			return iceerr.Wrap(iceerr.KindNotFound, op, err)
		}
	}
	return iceerr.Wrap(iceerr.KindHardwareTransport, op, err)
}

// AllocHWRes allocates one dedicated resource of the given type. With btm set
// firmware scans from the bottom of the table.
func (c *Client) AllocHWRes(resType uint16, btm bool) (uint16, error) {
	logger := log.WithField("func", "AllocHWRes").WithField("pkg", "adminq")
	t := resType | ResTypeFlagDedicated | ResTypeFlagIgnoreIndex
	if btm {
		t |= ResTypeFlagScanBottom
	}

	resp, err := c.ch.Send(OpcAllocRes, encodeResElems(t, []uint16{0}))
	if err != nil {
		logger.WithError(err).Debugf("Unable to allocate resource type 0x%02x", resType)
		return 0, statusError("alloc_res", err)
	}

	_, elems, err := decodeResElems(resp)
	if err != nil || len(elems) != 1 {
		return 0, iceerr.New(iceerr.KindHardwareTransport, "alloc_res", "malformed response: %v", err)
	}
	return elems[0], nil
}

// FreeHWRes returns a previously allocated resource to firmware.
func (c *Client) FreeHWRes(resType uint16, idx uint16) error {
	if _, err := c.ch.Send(OpcFreeRes, encodeResElems(resType, []uint16{idx})); err != nil {
		log.WithField("func", "FreeHWRes").WithField("pkg", "adminq").
			WithError(err).Errorf("Unable to free resource type 0x%02x index %d", resType, idx)
		return statusError("free_res", err)
	}
	return nil
}

// UpdatePackage submits one update transaction. An empty buffer is not sent.
func (c *Client) UpdatePackage(b *Buffer) error {
	if b == nil || len(b.Sections) == 0 {
		return nil
	}
	if _, err := c.ch.Send(OpcUpdatePkg, b.Marshal()); err != nil {
		return statusError("update_pkg", err)
	}
	return nil
}
