// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package netdev

import (
	"errors"
	"net"
	"testing"

	"github.com/intel/ice-flow-classifier/pkg/flowconfigtypes"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/vishvananda/netlink"
)

var (
	links           map[string]*LinkMock
	linkByNameError error
	ethtoolMock     *EthtoolMock
)

func fakeLinkByName(name string) (netlink.Link, error) {
	if linkByNameError != nil {
		return nil, linkByNameError
	}
	l, ok := links[name]
	if !ok {
		return nil, errors.New("Link not found")
	}
	return l, nil
}

func TestNetdev(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Netdev Test Suite")
}

func mac(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	Expect(err).ToNot(HaveOccurred())
	return m
}

func vf(id int) *int {
	return &id
}

var _ = BeforeEach(func() {
	netlinkLinkByName = fakeLinkByName
	linkByNameError = nil
	ethtoolMock = &EthtoolMock{Drivers: map[string]string{"ens801f0": DriverICE, "ens801f0v1": DriverIAVF, "eth9": "e1000e"}}
	getEthtool = func() (ethtoolInterface, error) { return ethtoolMock, nil }

	links = map[string]*LinkMock{
		"ens801f0": {LinkAttrs: netlink.LinkAttrs{
			Name: "ens801f0",
			Vfs: []netlink.VfInfo{
				{ID: 0, Mac: mac("02:00:00:00:00:10")},
				{ID: 1, Mac: mac("02:00:00:00:00:11")},
			},
		}},
		"ens801f0v1": {LinkAttrs: netlink.LinkAttrs{Name: "ens801f0v1", HardwareAddr: mac("02:00:00:00:00:11")}},
		"eth9":       {LinkAttrs: netlink.LinkAttrs{Name: "eth9", HardwareAddr: mac("02:00:00:00:00:99")}},
	}
})

var _ = Describe("Open", func() {
	var _ = It("accepts an ice PF", func() {
		d, err := Open("ens801f0", Layout{PFVSI: 6, VFBase: 16})
		Expect(err).ToNot(HaveOccurred())
		Expect(d).ToNot(BeNil())
		Expect(ethtoolMock.Closed).To(BeTrue())
	})

	var _ = It("rejects interfaces of other drivers", func() {
		_, err := Open("eth9", Layout{})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("e1000e"))
	})

	var _ = It("returns ethtool errors", func() {
		ethtoolMock.DriverNameErr = errors.New("no such device")
		_, err := Open("ens801f0", Layout{})
		Expect(err).To(MatchError("no such device"))
	})

	var _ = It("returns ethtool handler errors", func() {
		getEthtool = func() (ethtoolInterface, error) { return nil, errors.New("socket") }
		_, err := Open("ens801f0", Layout{})
		Expect(err.Error()).To(ContainSubstring("unable to create ethtool handler"))
	})
})

var _ = Describe("Resolve", func() {
	var d *Device

	BeforeEach(func() {
		var err error
		d, err = Open("ens801f0", Layout{PFVSI: 6, VFBase: 16})
		Expect(err).ToNot(HaveOccurred())
	})

	var _ = It("maps the PF to its own VSI", func() {
		Expect(d.Resolve(flowconfigtypes.Target{})).To(Equal(uint16(6)))
		Expect(d.Resolve(flowconfigtypes.Target{Interface: "ens801f0"})).To(Equal(uint16(6)))
	})

	var _ = It("prefers an explicit VSI", func() {
		vsi := uint16(42)
		Expect(d.Resolve(flowconfigtypes.Target{Interface: "eth9", VSI: &vsi})).To(Equal(uint16(42)))
	})

	var _ = It("maps configured VFs", func() {
		Expect(d.Resolve(flowconfigtypes.Target{VF: vf(1)})).To(Equal(uint16(17)))
		_, err := d.Resolve(flowconfigtypes.Target{VF: vf(5)})
		Expect(err).To(HaveOccurred())
	})

	var _ = It("finds VF netdevs by MAC address", func() {
		Expect(d.Resolve(flowconfigtypes.Target{Interface: "ens801f0v1"})).To(Equal(uint16(17)))
		_, err := d.Resolve(flowconfigtypes.Target{Interface: "eth9"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("not a VF"))
	})

	var _ = It("returns netlink errors", func() {
		linkByNameError = errors.New("link by name error")
		_, err := d.Resolve(flowconfigtypes.Target{})
		Expect(err).To(MatchError("link by name error"))
	})
})

var _ = Describe("Static", func() {
	s := Static{Layout: Layout{PFVSI: 0, VFBase: 64}, PF: "sim0"}

	var _ = It("resolves without touching the system", func() {
		linkByNameError = errors.New("must not be called")
		Expect(s.Resolve(flowconfigtypes.Target{Interface: "sim0"})).To(Equal(uint16(0)))
		Expect(s.Resolve(flowconfigtypes.Target{VF: vf(3)})).To(Equal(uint16(67)))
		_, err := s.Resolve(flowconfigtypes.Target{VF: vf(MaxVFs)})
		Expect(err).To(HaveOccurred())
		_, err = s.Resolve(flowconfigtypes.Target{Interface: "eth0"})
		Expect(err).To(HaveOccurred())
	})
})
