// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

// Package netdev maps network interfaces of an ice adapter to the VSI
// numbers the classification tables are keyed by.
package netdev

import (
	"bytes"
	"fmt"

	"github.com/intel/ice-flow-classifier/pkg/flowconfigtypes"
	"github.com/safchain/ethtool"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

const (
	DriverICE  = "ice"
	DriverIAVF = "iavf"

	// MaxVFs is the number of VFs a PF can expose.
	MaxVFs = 256
)

type ethtoolInterface interface {
	DriverName(intf string) (string, error)
	Close()
}

var (
	netlinkLinkByName = netlink.LinkByName
	getEthtool        = func() (ethtoolInterface, error) { return ethtool.NewEthtool() }
)

// Resolver maps a configuration target to a VSI number.
type Resolver interface {
	Resolve(t flowconfigtypes.Target) (uint16, error)
}

// DriverName returns the kernel driver bound to ifname.
func DriverName(ifname string) (string, error) {
	e, err := getEthtool()
	if err != nil {
		return "", fmt.Errorf("unable to create ethtool handler: %v", err)
	}
	defer e.Close()
	return e.DriverName(ifname)
}

// CheckDriver fails unless ifname is driven by one of drivers.
func CheckDriver(ifname string, drivers ...string) error {
	name, err := DriverName(ifname)
	if err != nil {
		return err
	}
	for _, d := range drivers {
		if name == d {
			return nil
		}
	}
	return fmt.Errorf("interface %s uses driver %q, want one of %v", ifname, name, drivers)
}

// Layout places VSIs on the adapter: the PF's own VSI and the VSI of VF 0,
// with the other VFs following it.
type Layout struct {
	PFVSI  uint16
	VFBase uint16
}

func (l Layout) vfVSI(vf int) (uint16, error) {
	if vf < 0 || vf >= MaxVFs {
		return 0, fmt.Errorf("vf %d out of range", vf)
	}
	return l.VFBase + uint16(vf), nil
}

// Device resolves targets against the live links of one PF.
type Device struct {
	Layout
	pf string
}

// Open checks that pf is an ice PF and returns its resolver.
func Open(pf string, layout Layout) (*Device, error) {
	logger := log.WithField("func", "Open").WithField("pkg", "netdev")
	if err := CheckDriver(pf, DriverICE); err != nil {
		logger.WithError(err).Error("Unsupported interface")
		return nil, err
	}
	if _, err := netlinkLinkByName(pf); err != nil {
		return nil, err
	}
	logger.Infof("Using PF %s, vsi %d, VF vsis from %d", pf, layout.PFVSI, layout.VFBase)
	return &Device{Layout: layout, pf: pf}, nil
}

// findVF returns the index of the VF whose MAC matches mac.
func findVF(pf netlink.Link, mac []byte) (int, bool) {
	for _, vf := range pf.Attrs().Vfs {
		if len(mac) > 0 && bytes.Equal(vf.Mac, mac) {
			return vf.ID, true
		}
	}
	return 0, false
}

func hasVF(pf netlink.Link, id int) bool {
	for _, vf := range pf.Attrs().Vfs {
		if vf.ID == id {
			return true
		}
	}
	return false
}

// Resolve returns t.VSI when set. Otherwise a VF index, or a VF netdev
// found by MAC address among the PF's VFs, maps to that VF's VSI and
// anything else to the PF's VSI.
func (d *Device) Resolve(t flowconfigtypes.Target) (uint16, error) {
	if t.VSI != nil {
		return *t.VSI, nil
	}
	pf, err := netlinkLinkByName(d.pf)
	if err != nil {
		return 0, err
	}

	if t.VF != nil {
		if !hasVF(pf, *t.VF) {
			return 0, fmt.Errorf("vf %d not configured on %s", *t.VF, d.pf)
		}
		return d.vfVSI(*t.VF)
	}
	if t.Interface == "" || t.Interface == d.pf {
		return d.PFVSI, nil
	}

	link, err := netlinkLinkByName(t.Interface)
	if err != nil {
		return 0, err
	}
	vf, ok := findVF(pf, link.Attrs().HardwareAddr)
	if !ok {
		return 0, fmt.Errorf("interface %s is not a VF of %s", t.Interface, d.pf)
	}
	return d.vfVSI(vf)
}

// Static resolves targets without looking at the system, for simulated
// devices.
type Static struct {
	Layout
	PF string
}

func (s Static) Resolve(t flowconfigtypes.Target) (uint16, error) {
	switch {
	case t.VSI != nil:
		return *t.VSI, nil
	case t.VF != nil:
		return s.vfVSI(*t.VF)
	case t.Interface == "" || t.Interface == s.PF:
		return s.PFVSI, nil
	}
	return 0, fmt.Errorf("interface %s unknown to simulated device %s", t.Interface, s.PF)
}
