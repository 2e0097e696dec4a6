// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package rss

import (
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
)

// Hash enable bits of the VF interface, one per flow type.
const (
	HenaIPv4UnicastUDP   uint64 = 1 << 29
	HenaIPv4MulticastUDP uint64 = 1 << 30
	HenaIPv4UDP          uint64 = 1 << 31
	HenaIPv4TCPSynNoAck  uint64 = 1 << 32
	HenaIPv4TCP          uint64 = 1 << 33
	HenaIPv4SCTP         uint64 = 1 << 34
	HenaIPv4Other        uint64 = 1 << 35
	HenaIPv4Frag         uint64 = 1 << 36
	HenaIPv6UnicastUDP   uint64 = 1 << 39
	HenaIPv6MulticastUDP uint64 = 1 << 40
	HenaIPv6UDP          uint64 = 1 << 41
	HenaIPv6TCPSynNoAck  uint64 = 1 << 42
	HenaIPv6TCP          uint64 = 1 << 43
	HenaIPv6SCTP         uint64 = 1 << 44
	HenaIPv6Other        uint64 = 1 << 45
	HenaIPv6Frag         uint64 = 1 << 46

	henaIPv4    = HenaIPv4Other | HenaIPv4Frag
	henaIPv4TCP = HenaIPv4TCP | HenaIPv4TCPSynNoAck
	henaIPv4UDP = HenaIPv4UDP | HenaIPv4UnicastUDP | HenaIPv4MulticastUDP
	henaIPv6    = HenaIPv6Other | HenaIPv6Frag
	henaIPv6TCP = HenaIPv6TCP | HenaIPv6TCPSynNoAck
	henaIPv6UDP = HenaIPv6UDP | HenaIPv6UnicastUDP | HenaIPv6MulticastUDP

	henaAll = henaIPv4 | henaIPv4TCP | henaIPv4UDP | HenaIPv4SCTP |
		henaIPv6 | henaIPv6TCP | henaIPv6UDP | HenaIPv6SCTP
)

var henaConfigs = []struct {
	mask uint64
	cfg  Config
}{
	{henaIPv4, Config{HashFields: HashIPv4, Headers: ptype.HdrIPv4}},
	{henaIPv4TCP, Config{HashFields: HashIPv4 | HashTCPPort, Headers: ptype.HdrIPv4 | ptype.HdrTCP}},
	{henaIPv4UDP, Config{HashFields: HashIPv4 | HashUDPPort, Headers: ptype.HdrIPv4 | ptype.HdrUDP}},
	{HenaIPv4SCTP, Config{HashFields: HashIPv4 | HashSCTPort, Headers: ptype.HdrIPv4 | ptype.HdrSCTP}},
	{henaIPv6, Config{HashFields: HashIPv6, Headers: ptype.HdrIPv6}},
	{henaIPv6TCP, Config{HashFields: HashIPv6 | HashTCPPort, Headers: ptype.HdrIPv6 | ptype.HdrTCP}},
	{henaIPv6UDP, Config{HashFields: HashIPv6 | HashUDPPort, Headers: ptype.HdrIPv6 | ptype.HdrUDP}},
	{HenaIPv6SCTP, Config{HashFields: HashIPv6 | HashSCTPort, Headers: ptype.HdrIPv6 | ptype.HdrSCTP}},
}

// AvfConfigs returns the hash configurations a VF hash enable bitmap stands
// for.
func AvfConfigs(hena uint64) ([]Config, error) {
	if hena == 0 || hena&^henaAll != 0 {
		return nil, iceerr.New(iceerr.KindParam, "AvfConfigs", "invalid hash enable bits 0x%x", hena)
	}
	cfgs := []Config{}
	for _, hc := range henaConfigs {
		if hena&hc.mask != 0 {
			cfgs = append(cfgs, hc.cfg)
		}
	}
	return cfgs, nil
}

// AddAvfRssConfig translates the hash enable bitmap a VF requests into hash
// configurations of vsi.
func (l *Layer) AddAvfRssConfig(vsi uint16, hena uint64) error {
	if err := l.checkVSI("AddAvfRssConfig", vsi); err != nil {
		return err
	}
	cfgs, err := AvfConfigs(hena)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, cfg := range cfgs {
		if err := l.add(vsi, cfg); err != nil {
			return err
		}
	}
	return nil
}
